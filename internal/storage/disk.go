package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage reports on-disk bytes used by the database and the upload directory.
type Usage struct {
	DatabaseBytes int64 `json:"database_bytes"`
	UploadBytes   int64 `json:"upload_bytes"`
}

// Total returns the combined byte count.
func (u Usage) Total() int64 {
	return u.DatabaseBytes + u.UploadBytes
}

// MeasureUsage sums the database file (plus its WAL and shared-memory files) and the upload tree.
// Missing paths count as zero.
func MeasureUsage(dbPath, uploadDir string) (Usage, error) {
	var u Usage
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		n, err := pathSize(p)
		if err != nil {
			return Usage{}, err
		}
		u.DatabaseBytes += n
	}
	n, err := pathSize(uploadDir)
	if err != nil {
		return Usage{}, err
	}
	u.UploadBytes = n
	return u, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
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
	return total, err
}
