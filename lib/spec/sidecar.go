package spec

import (
	"bytes"
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ValentinKolb/edb/lib/codec"
	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/ValentinKolb/edb/lib/persistence"
	"github.com/ValentinKolb/edb/lib/sharding"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Format is the serialization format of the sidecar file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FileName returns the sidecar file name for format.
func (f Format) FileName() string {
	return "domain-spec." + string(f)
}

// Formats lists the supported formats in lookup order.
func Formats() []Format {
	return []Format{FormatYAML, FormatTOML}
}

// ParseFormat parses a format name ("yaml", "yml" or "toml").
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", errs.New(errs.CodeInvalidSpec, "unknown spec format %q (expected yaml or toml)", s)
	}
}

// --------------------------------------------------------------------------
// Sidecar
// --------------------------------------------------------------------------

// sidecar is the serialized form of a DomainSpec.
type sidecar struct {
	NumShards       int            `yaml:"num_shards" toml:"num_shards" json:"num_shards"`
	Engine          string         `yaml:"engine" toml:"engine" json:"engine"`
	ShardingScheme  string         `yaml:"sharding_scheme" toml:"sharding_scheme" json:"sharding_scheme"`
	PersistenceOpts map[string]any `yaml:"persistence_opts,omitempty" toml:"persistence_opts,omitempty" json:"persistence_opts,omitempty"`
	Codec           codecSidecar   `yaml:"codec" toml:"codec" json:"codec"`
}

type codecSidecar struct {
	Key   string `yaml:"key" toml:"key" json:"key"`
	Value string `yaml:"value" toml:"value" json:"value"`
}

func (s *DomainSpec) toSidecar() sidecar {
	sc := sidecar{
		NumShards:      s.numShards,
		Engine:         string(s.engine),
		ShardingScheme: string(s.scheme),
		Codec:          codecSidecar{Key: string(s.keyCodec), Value: string(s.valueCodec)},
	}
	if len(s.opts) > 0 {
		sc.PersistenceOpts = s.PersistenceOpts()
	}
	return sc
}

func fromSidecar(sc sidecar) (*DomainSpec, error) {
	return New(sc.NumShards,
		persistence.Kind(sc.Engine),
		sharding.Kind(sc.ShardingScheme),
		sc.PersistenceOpts,
		WithCodecs(codec.Kind(sc.Codec.Key), codec.Kind(sc.Codec.Value)),
	)
}

// Marshal encodes the spec in the given format.
func Marshal(s *DomainSpec, format Format) ([]byte, error) {
	sc := s.toSidecar()
	switch format {
	case FormatYAML:
		if sc.PersistenceOpts != nil {
			sc.PersistenceOpts = yamlOptions(sc.PersistenceOpts).(map[string]any)
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(sc); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidSpec, err, "failed to encode spec as yaml")
		}
		if err := enc.Close(); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidSpec, err, "failed to encode spec as yaml")
		}
		return buf.Bytes(), nil
	case FormatTOML:
		b, err := toml.Marshal(sc)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInvalidSpec, err, "failed to encode spec as toml")
		}
		return b, nil
	default:
		return nil, errs.New(errs.CodeInvalidSpec, "unknown spec format %q", format)
	}
}

// yamlOptions wraps every float64 in v as a yamlFloat.
func yamlOptions(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = yamlOptions(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = yamlOptions(e)
		}
		return out
	case float64:
		return yamlFloat(x)
	default:
		return x
	}
}

// yamlFloat is written with a decimal point. yaml.v3 writes float64(2) as
// "2", which reads back as an int.
type yamlFloat float64

func (f yamlFloat) MarshalYAML() (any, error) {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	switch s {
	case "+Inf":
		s = ".inf"
	case "-Inf":
		s = "-.inf"
	case "NaN":
		s = ".nan"
	default:
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}, nil
}

// Unmarshal decodes and validates a sidecar. The document is checked against
// the spec schema before it is decoded, so unknown fields, missing fields
// and values of the wrong type are reported as InvalidSpec errors.
func Unmarshal(data []byte, format Format) (*DomainSpec, error) {
	var raw map[string]any
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	case FormatTOML:
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, errs.New(errs.CodeInvalidSpec, "unknown spec format %q", format)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidSpec, err, "failed to parse %s spec", format)
	}

	normalized, err := normalizeMap(raw)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidSpec, err, "invalid spec document")
	}
	if err := validateSchema(normalized); err != nil {
		return nil, err
	}

	var sc sidecar
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &sc)
	case FormatTOML:
		err = toml.Unmarshal(data, &sc)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidSpec, err, "failed to decode %s spec", format)
	}
	return fromSidecar(sc)
}

// --------------------------------------------------------------------------
// Filesystem Access
// --------------------------------------------------------------------------

// Exists reports whether a sidecar file exists in root.
func Exists(fsys afero.Fs, root string) (bool, error) {
	for _, f := range Formats() {
		ok, err := afero.Exists(fsys, filepath.Join(root, f.FileName()))
		if err != nil {
			return false, errs.Wrap(errs.CodeEngineIO, err, "failed to check for domain spec").WithRoot(root)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ReadFrom reads the sidecar in root. It returns nil and no error if the
// directory has no sidecar. YAML takes precedence if both formats exist.
func ReadFrom(fsys afero.Fs, root string) (*DomainSpec, error) {
	for _, f := range Formats() {
		path := filepath.Join(root, f.FileName())
		data, err := afero.ReadFile(fsys, path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.CodeEngineIO, err, "failed to read domain spec").WithRoot(root).WithPath(path)
		}

		s, err := Unmarshal(data, f)
		if err != nil {
			var e *errs.Error
			if errors.As(err, &e) {
				return nil, e.WithRoot(root).WithPath(path)
			}
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

// WriteTo writes the sidecar for s into root, creating root if needed. The
// file is written under a temporary name and renamed into place.
func WriteTo(fsys afero.Fs, root string, s *DomainSpec, format Format) error {
	data, err := Marshal(s, format)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to create domain root").WithRoot(root)
	}

	target := filepath.Join(root, format.FileName())
	tmp := target + "." + uuid.NewString() + ".tmp"
	if err := afero.WriteFile(fsys, tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.CodeEngineIO, err, "failed to write domain spec").WithRoot(root).WithPath(tmp)
	}
	if err := fsys.Rename(tmp, target); err != nil {
		_ = fsys.Remove(tmp)
		return errs.Wrap(errs.CodeEngineIO, err, "failed to install domain spec").WithRoot(root).WithPath(target)
	}
	return nil
}
