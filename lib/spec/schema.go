package spec

import (
	_ "embed"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/ValentinKolb/edb/lib/errs"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaMu   sync.Mutex
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() {
	schemaCtx = cuecontext.New()
	v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		schemaErr = err
		return
	}
	schemaDef = v.LookupPath(cue.ParsePath("#DomainSpec"))
	schemaErr = schemaDef.Err()
}

// validateSchema checks a decoded sidecar document against the embedded CUE
// schema. A cue.Context is not safe for concurrent use, validations are
// serialized.
func validateSchema(doc map[string]any) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	schemaOnce.Do(loadSchema)
	if schemaErr != nil {
		return errs.Wrap(errs.CodeUnknown, schemaErr, "invalid embedded spec schema")
	}

	v := schemaDef.Unify(schemaCtx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return errs.New(errs.CodeInvalidSpec, "spec does not match schema: %s", cueerrors.Details(err, nil))
	}
	return nil
}
