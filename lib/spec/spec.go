package spec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ValentinKolb/edb/lib/codec"
	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/persistence/util"
	"github.com/ValentinKolb/edb/lib/sharding"
	"github.com/spf13/cast"
)

// --------------------------------------------------------------------------
// DomainSpec
// --------------------------------------------------------------------------

// DomainSpec describes the fixed layout of a domain: how many shards it
// has, which engine stores them, how keys are assigned to shards and how
// keys and values are encoded. A DomainSpec is immutable, all accessors
// return copies.
type DomainSpec struct {
	numShards  int
	engine     persistence.Kind
	scheme     sharding.Kind
	opts       persistence.Options
	keyCodec   codec.Kind
	valueCodec codec.Kind
}

// Option customizes a DomainSpec created with New.
type Option func(*DomainSpec)

// WithCodecs sets the key and value codec (default binary for both).
func WithCodecs(key, value codec.Kind) Option {
	return func(s *DomainSpec) {
		s.keyCodec = key
		s.valueCodec = value
	}
}

// New creates a DomainSpec. It fails with an InvalidSpec error if numShards
// is not positive, engine or scheme are empty or an option value has a type
// that can not be stored in a sidecar.
func New(numShards int, engine persistence.Kind, scheme sharding.Kind, opts persistence.Options, options ...Option) (*DomainSpec, error) {
	if numShards <= 0 {
		return nil, errs.New(errs.CodeInvalidSpec, "num_shards must be positive, got %d", numShards)
	}
	if engine == "" {
		return nil, errs.New(errs.CodeInvalidSpec, "engine must not be empty")
	}
	if scheme == "" {
		return nil, errs.New(errs.CodeInvalidSpec, "sharding_scheme must not be empty")
	}

	normalized, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &DomainSpec{
		numShards:  numShards,
		engine:     engine,
		scheme:     scheme,
		opts:       normalized,
		keyCodec:   codec.KindBinary,
		valueCodec: codec.KindBinary,
	}
	for _, o := range options {
		o(s)
	}
	if s.keyCodec == "" {
		s.keyCodec = codec.KindBinary
	}
	if s.valueCodec == "" {
		s.valueCodec = codec.KindBinary
	}
	return s, nil
}

// MustNew is like New but panics on error. For tests and static specs.
func MustNew(numShards int, engine persistence.Kind, scheme sharding.Kind, opts persistence.Options, options ...Option) *DomainSpec {
	s, err := New(numShards, engine, scheme, opts, options...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *DomainSpec) NumShards() int                { return s.numShards }
func (s *DomainSpec) Engine() persistence.Kind      { return s.engine }
func (s *DomainSpec) ShardingScheme() sharding.Kind { return s.scheme }
func (s *DomainSpec) KeyCodec() codec.Kind          { return s.keyCodec }
func (s *DomainSpec) ValueCodec() codec.Kind        { return s.valueCodec }

// PersistenceOpts returns a deep copy of the engine options.
func (s *DomainSpec) PersistenceOpts() persistence.Options {
	return persistence.Options(deepCopy(s.opts).(map[string]any))
}

// Validate checks that engine, sharding scheme and codecs are known.
func (s *DomainSpec) Validate() error {
	if _, err := persistence.Lookup(s.engine); err != nil {
		return err
	}
	if _, err := persistence.CompressionFromOptions(s.opts); err != nil {
		return err
	}
	if _, err := sharding.Lookup(s.scheme); err != nil {
		return err
	}
	if _, err := codec.New(s.keyCodec, nil); err != nil {
		return err
	}
	if _, err := codec.New(s.valueCodec, nil); err != nil {
		return err
	}
	return nil
}

// Equal reports whether both specs describe the same domain layout.
func (s *DomainSpec) Equal(o *DomainSpec) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.numShards == o.numShards &&
		s.engine == o.engine &&
		s.scheme == o.scheme &&
		s.keyCodec == o.keyCodec &&
		s.valueCodec == o.valueCodec &&
		reflect.DeepEqual(s.opts, o.opts)
}

// Hash returns a structural hash over all fields. Equal specs have equal hashes.
func (s *DomainSpec) Hash() uint64 {
	// encoding/json sorts map keys, so the encoding is canonical
	b, err := json.Marshal(s.toSidecar())
	if err != nil {
		return util.HashString(s.String(), 0)
	}
	return util.HashBytes(b, 0)
}

// String returns a stable, human readable multi line description.
func (s *DomainSpec) String() string {
	var sb strings.Builder
	sb.WriteString("DomainSpec:\n")

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-16s: %s\n", name, value))
	}
	addField("num_shards", fmt.Sprint(s.numShards))
	addField("engine", string(s.engine))
	addField("sharding_scheme", string(s.scheme))
	addField("key_codec", string(s.keyCodec))
	addField("value_codec", string(s.valueCodec))

	if len(s.opts) == 0 {
		addField("persistence_opts", "{}")
		return sb.String()
	}
	sb.WriteString("  persistence_opts:\n")
	flat := make(map[string]any)
	flatten("", s.opts, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("    %-14s: %v\n", k, flat[k]))
	}
	return sb.String()
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// --------------------------------------------------------------------------
// Option Normalization
// --------------------------------------------------------------------------

// normalizeOptions converts option values to the canonical types a sidecar
// decodes to (int64, float64, string, bool, []any, map[string]any), so that a
// spec compares equal to itself after a write and read round trip.
func normalizeOptions(opts persistence.Options) (persistence.Options, error) {
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInvalidSpec, err, "invalid value for persistence option %q", k)
		}
		out[k] = n
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int64, float64:
		return x, nil
	case int, int8, int16, int32, uint8, uint16, uint32:
		return cast.ToInt64E(x)
	case uint, uint64:
		u := cast.ToUint64(x)
		if u > 1<<63-1 {
			return nil, fmt.Errorf("integer %d overflows int64", u)
		}
		return int64(u), nil
	case float32:
		return cast.ToFloat64E(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		return normalizeMap(x)
	case persistence.Options:
		return normalizeMap(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			ks, err := cast.ToStringE(k)
			if err != nil {
				return nil, fmt.Errorf("invalid map key %v: %w", k, err)
			}
			m[ks] = e
		}
		return normalizeMap(m)
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, e := range m {
		n, err := normalizeValue(e)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case persistence.Options:
		return deepCopy(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return x
	}
}
