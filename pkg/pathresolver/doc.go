// Package pathresolver is the one place in the storage core that knows
// the on-disk layout. Every other package asks it for a path instead
// of constructing one with filepath.Join directly, so the layout in
// the path layout only has to change in one file if it ever does.
package pathresolver
