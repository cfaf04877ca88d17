package persistence

import (
	"sort"
	"sync"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log = logger.GetLogger("persistence")

	registryMu sync.RWMutex
	registry   = make(map[Kind]ICoordinator)
)

// Register makes a coordinator available under its kind. Engine packages
// call it from their init function, so importing an engine package for its
// side effects is enough to use it in a domain spec:
//
//	import _ "github.com/ValentinKolb/edb/lib/persistence/engines/pebble"
//
// Register panics if the coordinator is nil or the kind is registered twice.
func Register(coordinator ICoordinator) {
	if coordinator == nil {
		panic("persistence: Register coordinator is nil")
	}
	registryMu.Lock()
	defer registryMu.Unlock()

	kind := coordinator.Kind()
	if _, dup := registry[kind]; dup {
		panic("persistence: Register called twice for engine " + string(kind))
	}
	registry[kind] = coordinator
}

// Lookup returns the coordinator registered for kind.
func Lookup(kind Kind) (ICoordinator, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	c, ok := registry[kind]
	if !ok {
		return nil, errs.New(errs.CodeInvalidSpec, "unknown engine %q (registered: %v)", kind, kindsLocked())
	}
	return c, nil
}

// Kinds returns the sorted list of registered engine kinds.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return kindsLocked()
}

func kindsLocked() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Resolve looks up the coordinator for kind and applies the cross-cutting
// decorators requested by opts (currently value compression, see
// WithCompression).
func Resolve(kind Kind, opts Options) (ICoordinator, error) {
	c, err := Lookup(kind)
	if err != nil {
		return nil, err
	}

	algo, err := CompressionFromOptions(opts)
	if err != nil {
		return nil, err
	}
	if algo == CompressionNone {
		return c, nil
	}
	if !c.SupportsFeature(FeatureGet | FeaturePut) {
		return nil, errs.New(errs.CodeInvalidSpec, "engine %q does not support compression (not key-value shaped)", kind)
	}
	log.Debugf("wrapping engine %s with %s compression", kind, algo)
	return WithCompression(c, algo), nil
}
