// Package definition holds the process-global, no-eviction cache of
// parsed workflow definitions (C10), keyed by (name, version).
package definition

import (
	"context"
	"sync"
	"time"

	"github.com/lemline/lemline/internal/dsl"
	"github.com/lemline/lemline/internal/engine"
	"github.com/lemline/lemline/internal/parser"
)

// Definition is a cached, fully-parsed workflow: its verbatim source,
// decoded Document, built tree, and the `use.*` tables the engine needs
// at drive time.
type Definition struct {
	Name    string
	Version string
	Source  string
	Doc     *parser.Document
	Root    *engine.Node

	Secrets         []string
	DeclaredRetries map[string]map[string]interface{}
	DeclaredErrors  map[string]*dsl.Error
}

// Loader fetches a definition's verbatim source text from the
// repository on a cache miss (§4.3 "cache by (name, version)").
type Loader func(name, version string) (string, error)

// Cache is a read-mostly, compute-if-absent-under-per-key-lock cache
// with no eviction (§4.3, §5 "Workflow definition cache").
type Cache struct {
	load Loader
	lock *DistributedLock

	mu      sync.Mutex
	entries map[string]*entry
}

// WithDistributedLock enables the C14 cross-process lock: the process
// that wins the lock builds the definition while holding it; a losing
// racer in a multi-consumer-process deployment sleeps 50ms and then
// builds the definition itself, issuing its own repository read. Local
// per-process misses are already serialized by the per-entry sync.Once
// regardless of whether a lock is configured.
func (c *Cache) WithDistributedLock(lock *DistributedLock) *Cache {
	c.lock = lock
	return c
}

type entry struct {
	once sync.Once
	def  *Definition
	err  error
}

// NewCache creates a Cache backed by load for misses.
func NewCache(load Loader) *Cache {
	return &Cache{load: load, entries: make(map[string]*entry)}
}

func key(name, version string) string { return name + "@" + version }

// Get returns the cached Definition for (name, version), parsing and
// compiling it on first access. Concurrent callers for the same key
// block on the same compute, not on the whole cache (§5 "compute-if-
// absent under a per-key lock").
func (c *Cache) Get(name, version string) (*Definition, error) {
	k := key(name, version)

	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{}
		c.entries[k] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		if c.lock != nil {
			ctx := context.Background()
			if acquired, _ := c.lock.TryLock(ctx, k); acquired {
				defer c.lock.Unlock(ctx, k)
			} else {
				// Another process is already computing this definition;
				// wait briefly, then build it here anyway, so correctness
				// never depends on the lock being held.
				time.Sleep(50 * time.Millisecond)
			}
		}
		e.def, e.err = c.build(name, version)
	})
	return e.def, e.err
}

func (c *Cache) build(name, version string) (*Definition, error) {
	src, err := c.load(name, version)
	if err != nil {
		return nil, dsl.New(dsl.KindConfiguration, "/", "failed to load workflow definition").Wrap(err)
	}

	doc, err := parser.Parse([]byte(src))
	if err != nil {
		return nil, err
	}
	root, err := parser.Build(doc)
	if err != nil {
		return nil, err
	}
	if err := parser.Validate(doc, root); err != nil {
		return nil, err
	}

	declaredErrors := make(map[string]*dsl.Error, len(doc.Use.Errors))
	for refName, raw := range doc.Use.Errors {
		declaredErrors[refName] = decodeDeclaredError(raw)
	}

	return &Definition{
		Name:            name,
		Version:         version,
		Source:          src,
		Doc:             doc,
		Root:            root,
		Secrets:         doc.Use.Secrets,
		DeclaredRetries: doc.Use.Retries,
		DeclaredErrors:  declaredErrors,
	}, nil
}

func decodeDeclaredError(raw map[string]interface{}) *dsl.Error {
	kind, _ := raw["type"].(string)
	title, _ := raw["title"].(string)
	e := dsl.New(dsl.Kind(kind), "", title)
	if status, ok := raw["status"].(float64); ok {
		e.Status = int(status)
	}
	if details, ok := raw["details"].(map[string]interface{}); ok {
		for k, v := range details {
			e.WithDetail(k, v)
		}
	}
	return e
}
