package settings

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Validation error codes (S000-S099)
const (
	ErrCodeParse        = "S000" // settings are not valid JSON/YAML
	ErrCodeSchema       = "S001" // settings violate the schema
	ErrCodeInvalidValue = "S002" // a field has an unusable value
)

// ValidationError is one structural problem with a settings document.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// SchemaError collects every ValidationError found in one document.
type SchemaError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid settings: " + strings.Join(msgs, "; ")
}

// cue.Context is not safe for concurrent use.
var (
	schemaMu  sync.Mutex
	schemaCtx *cue.Context
	schemaDef cue.Value
)

func schema() (*cue.Context, cue.Value) {
	if schemaCtx == nil {
		schemaCtx = cuecontext.New()
		schemaDef = schemaCtx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Settings"))
	}
	return schemaCtx, schemaDef
}

// validateSchema checks JSON data against the embedded CUE schema.
func validateSchema(data []byte) []ValidationError {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, def := schema()
	if err := def.Err(); err != nil {
		// The embedded schema is compiled into the binary.
		panic(fmt.Sprintf("settings schema: %v", err))
	}

	v := ctx.CompileBytes(data)
	if err := v.Err(); err != nil {
		return []ValidationError{{Code: ErrCodeParse, Message: err.Error()}}
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Code:    ErrCodeSchema,
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Code: ErrCodeSchema, Message: err.Error()})
	}
	return out
}
