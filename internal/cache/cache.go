// Package cache stores rendered frame images on disk, keyed by a
// fingerprint of the render request.
//
// Entries are only ever added. Nothing expires; callers that want fresh
// renders call Clear.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// Ext is the file extension of every cached artifact.
const Ext = ".png"

var (
	ErrInvalidFingerprint = errors.New("cache: invalid fingerprint")
	ErrEmptyArtifact      = errors.New("cache: render produced no data")

	fingerprintRE = regexp.MustCompile(`^[0-9a-f]{16,128}$`)
)

// Stats counts lookups served from disk (hits) and renders (misses).
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache is an append-only store under a single directory.
type Cache struct {
	root   string
	group  singleflight.Group
	mem    *lru.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// New opens (creating if needed) a cache rooted at dir. memEntries bounds
// the in-memory copy of artifact bytes; zero disables it.
func New(dir string, memEntries int) (*Cache, error) {
	root := filepath.Clean(strings.TrimSpace(dir))
	if root == "" || root == "." {
		return nil, fmt.Errorf("cache: root directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", root, err)
	}

	c := &Cache{root: root}
	if memEntries > 0 {
		mem, err := lru.New(memEntries)
		if err != nil {
			return nil, err
		}
		c.mem = mem
	}
	return c, nil
}

func (c *Cache) Root() string {
	return c.root
}

// Path returns where the artifact for fp lives, whether or not it exists.
func (c *Cache) Path(fp string) (string, error) {
	if !fingerprintRE.MatchString(fp) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFingerprint, fp)
	}
	return filepath.Join(c.root, fp+Ext), nil
}

// Lookup reports whether fp has a published artifact.
func (c *Cache) Lookup(fp string) (string, bool, error) {
	path, err := c.Path(fp)
	if err != nil {
		return "", false, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, false, nil
		}
		return "", false, err
	}
	if !fi.Mode().IsRegular() || fi.Size() == 0 {
		return path, false, nil
	}
	return path, true, nil
}

// GetOrCreate returns the artifact path for fp, calling render only when no
// artifact is published yet. Concurrent callers for the same fp share one
// render.
func (c *Cache) GetOrCreate(fp string, render func() ([]byte, error)) (string, bool, error) {
	if path, ok, err := c.Lookup(fp); err != nil {
		return "", false, err
	} else if ok {
		c.hits.Add(1)
		return path, true, nil
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		// another caller may have published while we waited
		if path, ok, err := c.Lookup(fp); err != nil || ok {
			return hitResult{path: path, hit: true}, err
		}

		data, err := render()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, ErrEmptyArtifact
		}
		path, err := c.publish(fp, data)
		if err != nil {
			return nil, err
		}
		if c.mem != nil {
			c.mem.Add(fp, data)
		}
		return hitResult{path: path}, nil
	})
	if err != nil {
		return "", false, err
	}

	res := v.(hitResult)
	if res.hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return res.path, res.hit, nil
}

type hitResult struct {
	path string
	hit  bool
}

// Read returns the artifact bytes for fp.
func (c *Cache) Read(fp string) ([]byte, error) {
	if c.mem != nil {
		if v, ok := c.mem.Get(fp); ok {
			return v.([]byte), nil
		}
	}
	path, ok, err := c.Lookup(fp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cache: no artifact for %s: %w", fp, os.ErrNotExist)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if c.mem != nil {
		c.mem.Add(fp, data)
	}
	return data, nil
}

// Len counts published artifacts.
func (c *Cache) Len() (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), Ext) && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n, nil
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Clear removes every artifact. This is the only way entries go away.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return err
		}
	}
	if c.mem != nil {
		c.mem.Purge()
	}
	return nil
}
