package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// publish writes data to a temp file in the cache directory and links it
// into place. An existing artifact is never replaced: if another process
// won the race, its file is kept and returned.
func (c *Cache) publish(fp string, data []byte) (string, error) {
	dst, err := c.Path(fp)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(c.root, "."+fp+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// link fails with ErrExist instead of overwriting
	if err := os.Link(tmpName, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return dst, nil
		}
		// filesystems without hard links
		if _, statErr := os.Stat(dst); statErr == nil {
			return dst, nil
		}
		if err := os.Rename(tmpName, dst); err != nil {
			return "", err
		}
	}

	_ = syncDir(filepath.Dir(dst))
	return dst, nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
