package workflow

import (
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"comfyrun/internal/tokens"
	"comfyrun/pkg/models"
)

// catalogCacheSize bounds how many parsed graphs a Catalog keeps.
const catalogCacheSize = 128

type cachedGraph struct {
	modTime time.Time
	size    int64
	graph   models.Graph
}

// Catalog serves graph files from one directory. Parsed graphs are cached
// until the file's modification time or size changes.
type Catalog struct {
	Root  string
	cache *lru.Cache[string, cachedGraph]
}

// NewCatalog creates a catalog rooted at dir.
func NewCatalog(dir string) *Catalog {
	// only fails for a non-positive size
	cache, _ := lru.New[string, cachedGraph](catalogCacheSize)
	return &Catalog{Root: dir, cache: cache}
}

// List returns every workflow path relative to the root.
func (c *Catalog) List() ([]string, error) {
	return Scan(c.Root)
}

// Open loads the workflow at a root-relative path. The caller owns the
// returned graph.
func (c *Catalog) Open(rel string) (models.Graph, error) {
	path, err := Resolve(c.Root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}

	if hit, ok := c.cache.Get(path); ok && hit.modTime.Equal(info.ModTime()) && hit.size == info.Size() {
		return hit.graph.Clone(), nil
	}

	g, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.cache.Add(path, cachedGraph{modTime: info.ModTime(), size: info.Size(), graph: g.Clone()})
	return g, nil
}

// Tokens loads the workflow at rel and lists its placeholders.
func (c *Catalog) Tokens(rel string) ([]models.TokenSpec, error) {
	g, err := c.Open(rel)
	if err != nil {
		return nil, err
	}
	return tokens.Discover(g), nil
}
