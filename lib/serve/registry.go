package serve

import (
	"context"
	"sort"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// Registry holds the loaders of several domains by name.
type Registry struct {
	loaders *xsync.MapOf[string, *Loader]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: xsync.NewMapOf[string, *Loader]()}
}

// Register adds loader under name. Names must be unique.
func (r *Registry) Register(name string, loader *Loader) error {
	if _, loaded := r.loaders.LoadOrStore(name, loader); loaded {
		return errs.New(errs.CodeInvalidSpec, "domain %q is already registered", name)
	}
	return nil
}

// Get returns the loader registered under name.
func (r *Registry) Get(name string) (*Loader, bool) {
	return r.loaders.Load(name)
}

// Names returns the sorted names of all registered domains.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.loaders.Size())
	r.loaders.Range(func(name string, _ *Loader) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Remove unregisters and closes the loader registered under name.
func (r *Registry) Remove(name string) error {
	loader, ok := r.loaders.LoadAndDelete(name)
	if !ok {
		return nil
	}
	return loader.Close()
}

// RefreshAll refreshes every loader.
func (r *Registry) RefreshAll() error {
	var err error
	for _, name := range r.Names() {
		if loader, ok := r.Get(name); ok {
			if _, rerr := loader.Refresh(); rerr != nil {
				err = multierr.Append(err, rerr)
			}
		}
	}
	return err
}

// Run runs every registered loader until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	p := pool.New().WithErrors()
	r.loaders.Range(func(_ string, loader *Loader) bool {
		p.Go(func() error { return loader.Run(ctx) })
		return true
	})
	return p.Wait()
}

// Close removes and closes all loaders.
func (r *Registry) Close() error {
	var err error
	for _, name := range r.Names() {
		err = multierr.Append(err, r.Remove(name))
	}
	return err
}
