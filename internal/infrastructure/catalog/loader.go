package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/Zhima-Mochi/diner/internal/domain/menu"
	"golang.org/x/sync/singleflight"
)

const DefaultFile = "menu.json"

var (
	ErrNotFound  = fmt.Errorf("catalog: file not found: %w", apperr.ErrNotFound)
	ErrMalformed = fmt.Errorf("catalog: malformed file: %w", apperr.ErrUpstream)

	selectorPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

type document struct {
	Data []menu.Item `json:"data"`
}

// Loader reads {data: [...]} catalog documents from dir. Loaded catalogs are cached for the
// lifetime of the process.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*menu.Catalog
	sfg   singleflight.Group
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*menu.Catalog)}
}

// Path resolves a selector to its file. The empty selector is the default catalog.
func (l *Loader) Path(selector string) (string, error) {
	if selector == "" {
		return filepath.Join(l.dir, DefaultFile), nil
	}
	if !selectorPattern.MatchString(selector) {
		return "", fmt.Errorf("%w: %q", menu.ErrInvalidCatalog, selector)
	}
	return filepath.Join(l.dir, selector+".json"), nil
}

func (l *Loader) Load(ctx context.Context, selector string) (*menu.Catalog, error) {
	path, err := l.Path(selector)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	c, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := l.sfg.Do(path, func() (interface{}, error) {
		l.mu.RLock()
		cached, ok := l.cache[path]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := readFile(path, selector)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[path] = c
		l.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*menu.Catalog), nil
}

// Invalidate drops every cached catalog so the next Load rereads from disk.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]*menu.Catalog)
	l.mu.Unlock()
}

func readFile(path, selector string) (*menu.Catalog, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filepath.Base(path), err)
	}
	if doc.Data == nil {
		return nil, fmt.Errorf("%w: %s: missing data array", ErrMalformed, filepath.Base(path))
	}
	c, err := menu.NewCatalog(selector, doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c, nil
}
