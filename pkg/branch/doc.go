// Package branch performs the copy-on-write table materialization dev
// branches need: a branch reads the main table file until its first
// write, at which point the file is copied into the branch's own
// per-bucket directory and every later operation targets that copy.
package branch
