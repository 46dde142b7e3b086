package populate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/repository"
)

// Option configures a Populator.
type Option func(*Populator)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Populator) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSkipUnknown makes Run log document keys that have no binding at
// warn level and continue instead of failing the run.
func WithSkipUnknown(skip bool) Option {
	return func(p *Populator) {
		p.skipUnknown = skip
	}
}

// binding applies the decoded objects of one document key.
type binding interface {
	apply(ctx context.Context, objects []any) error
}

// Populator loads fixture resources and saves their objects through
// bound repositories. Bindings and resources can be added from any
// goroutine; Run may be called repeatedly, an upsert-style store makes
// reruns converge on the resource state.
type Populator struct {
	logger      *slog.Logger
	skipUnknown bool

	mu        sync.Mutex
	bindings  map[string]binding
	resources []string
}

// New builds a populator with no bindings or resources.
func New(opts ...Option) *Populator {
	p := &Populator{
		logger:   slog.Default(),
		bindings: make(map[string]binding),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bind registers repo for the document key name. Objects under the key
// are instantiated through T's mapping metadata and saved one by one.
// An empty name binds the entity's storage name. Each key can be bound
// once.
func Bind[T any, ID comparable](p *Populator, name string, repo repository.CrudRepository[T, ID], mctx *mapping.Context) error {
	meta, err := repository.NewMeta[T, ID](mctx)
	if err != nil {
		return fmt.Errorf("populate: bind %q: %w", name, err)
	}
	if name == "" {
		name = meta.Entity().Name()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.bindings[name]; dup {
		return fmt.Errorf("populate: key %q is already bound", name)
	}
	p.bindings[name] = &typedBinding[T, ID]{meta: meta, repo: repo}
	return nil
}

// AddResource registers resource files by path or glob pattern. Patterns
// are expanded on every Run, so files created later are picked up.
func (p *Populator) AddResource(patterns ...string) *Populator {
	p.mu.Lock()
	p.resources = append(p.resources, patterns...)
	p.mu.Unlock()
	return p
}

// Run expands the registered resources and loads every file. Files load
// concurrently; within a file, objects are saved in document order. The
// first failing file cancels the rest.
func (p *Populator) Run(ctx context.Context) error {
	files, err := p.expand()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			return p.runFile(ctx, file)
		})
	}
	return g.Wait()
}

// expand resolves the registered patterns to a sorted, de-duplicated
// file list. A literal path that does not exist is an error; a glob
// that matches nothing is not.
func (p *Populator) expand() ([]string, error) {
	p.mu.Lock()
	patterns := append([]string(nil), p.resources...)
	p.mu.Unlock()

	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("populate: bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
			return nil, fmt.Errorf("populate: resource %s: %w", pattern, os.ErrNotExist)
		}
		for _, m := range matches {
			if _, dup := seen[m]; !dup {
				seen[m] = struct{}{}
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func (p *Populator) runFile(ctx context.Context, path string) error {
	doc, err := decode(path)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		b, bound := p.binding(key)
		if !bound {
			if p.skipUnknown {
				p.logger.Warn("skipping unbound fixture key", "file", path, "key", key)
				continue
			}
			return fmt.Errorf("populate: %s: no binding for key %q", path, key)
		}
		objects, err := objectList(doc[key])
		if err != nil {
			return fmt.Errorf("populate: %s: key %q: %w", path, key, err)
		}
		if err := b.apply(ctx, objects); err != nil {
			return fmt.Errorf("populate: %s: key %q: %w", path, key, err)
		}
		p.logger.Debug("populated fixtures", "file", path, "key", key, "objects", len(objects))
	}
	return nil
}

func (p *Populator) binding(key string) (binding, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bindings[key]
	return b, ok
}

// matches reports whether path names one of the registered resources,
// either literally or through a pattern.
func (p *Populator) matches(path string) bool {
	p.mu.Lock()
	patterns := append([]string(nil), p.resources...)
	p.mu.Unlock()

	for _, pattern := range patterns {
		if pattern == path {
			return true
		}
		if ok, err := filepath.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// decode reads one resource file into a key to value document. The
// format follows the file extension.
func decode(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("populate: %w", err)
	}

	doc := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("populate: %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("populate: %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("populate: %s: unsupported resource format %q", path, ext)
	}
	return doc, nil
}

// objectList normalizes a document value to a list of objects. A single
// mapping counts as a one-element list.
func objectList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case map[string]any:
		return []any{t}, nil
	default:
		return nil, fmt.Errorf("expected a list of objects, got %T", v)
	}
}

// typedBinding carries the metadata and repository for one entity type.
type typedBinding[T any, ID comparable] struct {
	meta *repository.Meta[T, ID]
	repo repository.CrudRepository[T, ID]
}

func (b *typedBinding[T, ID]) apply(ctx context.Context, objects []any) error {
	for i, raw := range objects {
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("object %d: expected a mapping, got %T", i, raw)
		}
		entity, err := b.meta.FromSource(mapping.MapSource(obj))
		if err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		if _, err := b.repo.Save(ctx, entity); err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
	}
	return nil
}
