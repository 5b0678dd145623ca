package certstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kboghdady/puppet/internal/util"
)

// atomicWriteFile writes data to path by writing a sibling temp file and
// renaming it into place, so a crash mid-write never leaves a partial PEM
// file visible to a concurrent reader. perm is applied to the temp file
// before the rename so the final file is never briefly more permissive
// than requested (load-bearing for SavePrivateKey's 0600 requirement).
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	suffix, err := util.RandomChars(8)
	if err != nil {
		return fmt.Errorf("generating temp file suffix: %w", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), suffix))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing temp file %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// readFileIfExists returns (nil, false, nil) when path does not exist,
// matching the "absent is not an error" loader policy shared by every
// artifact in this package.
func readFileIfExists(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, true, nil
}
