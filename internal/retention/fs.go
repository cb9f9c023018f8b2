package retention

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the filesystem surface the retention manager needs.
type FS interface {
	// Size returns the total size in bytes of all regular files under dir.
	Size(dir string) (int64, error)
	ReadDir(dir string) ([]fs.DirEntry, error)
	RemoveAll(path string) error
	MkdirAll(path string, perm fs.FileMode) error
}

// OSFS implements FS on the local disk.
type OSFS struct{}

// Size walks dir and sums regular file sizes. Entries that vanish mid-walk are ignored.
func (OSFS) Size(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (OSFS) ReadDir(dir string) ([]fs.DirEntry, error) { return os.ReadDir(dir) }

func (OSFS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (OSFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
