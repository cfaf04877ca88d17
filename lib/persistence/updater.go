package persistence

import (
	"github.com/ValentinKolb/edb/lib/errs"
)

// IUpdater decides how an incoming document is applied to a shard that may
// already hold a value for the same key. Build pipelines call it once per
// record instead of calling Index directly.
type IUpdater interface {
	Update(p IPersistence, doc Document) error
}

// UpdaterFunc adapts a function to the IUpdater interface.
type UpdaterFunc func(p IPersistence, doc Document) error

func (f UpdaterFunc) Update(p IPersistence, doc Document) error {
	return f(p, doc)
}

// ReplaceUpdater upserts the document, the newest value wins.
type ReplaceUpdater struct{}

func (ReplaceUpdater) Update(p IPersistence, doc Document) error {
	return p.Index(doc)
}

// AppendUpdater appends the incoming value to the stored one (separated by
// Separator if the stored value is not empty). It requires a key-value
// shaped persistence.
type AppendUpdater struct {
	Separator []byte
}

func (a AppendUpdater) Update(p IPersistence, doc Document) error {
	kv, ok := p.(IKeyValPersistence)
	if !ok {
		return errs.New(errs.CodeInvalidSpec, "append updater requires a key-value persistence, got %T", p)
	}
	old, found, err := kv.Get(doc.Key)
	if err != nil {
		return err
	}
	if !found || len(old) == 0 {
		return kv.Index(doc)
	}

	merged := make([]byte, 0, len(old)+len(a.Separator)+len(doc.Value))
	merged = append(merged, old...)
	merged = append(merged, a.Separator...)
	merged = append(merged, doc.Value...)
	return kv.Index(Document{Key: doc.Key, Value: merged})
}

// UpdaterByName returns the built-in updater with the given name ("replace"
// or "append"). The append updater uses sep as separator.
func UpdaterByName(name string, sep []byte) (IUpdater, error) {
	switch name {
	case "", "replace":
		return ReplaceUpdater{}, nil
	case "append":
		return AppendUpdater{Separator: sep}, nil
	default:
		return nil, errs.New(errs.CodeInvalidSpec, "unknown updater %q (expected replace or append)", name)
	}
}
