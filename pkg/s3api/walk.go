package s3api

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// walkFiles walks dir and invokes fn for every regular file found,
// with relKey as the "/"-joined path relative to dir — the S3 object
// key space is always forward-slash delimited regardless of host OS.
func walkFiles(dir string, fn func(relKey string, size int64, modTime time.Time)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fn(filepath.ToSlash(rel), info.Size(), info.ModTime())
		return nil
	})
}
