package storage

import (
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of the stores, per component.
type Usage struct {
	DatabaseBytes int64 `json:"database_bytes"`
	IndexBytes    int64 `json:"index_bytes"`
	TotalBytes    int64 `json:"total_bytes"`
}

// MeasureUsage sizes the SQLite database (including WAL/SHM side files) and the keyword index directory.
func MeasureUsage(databasePath, indexPath string) (Usage, error) {
	var u Usage
	var err error
	if databasePath != "" {
		u.DatabaseBytes, err = DiskUsageBytes(databasePath, databasePath+"-wal", databasePath+"-shm")
		if err != nil {
			return Usage{}, err
		}
	}
	if indexPath != "" {
		u.IndexBytes, err = DiskUsageBytes(indexPath)
		if err != nil {
			return Usage{}, err
		}
	}
	u.TotalBytes = u.DatabaseBytes + u.IndexBytes
	return u, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed). Missing paths contribute 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
