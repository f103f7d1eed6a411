package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser evaluates module.cue manifests. The evaluated value is unified
// with the #Module schema and exported as JSON, which then goes through the
// same decoding path as module.yaml.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
	}
}

// ParseFile evaluates a CUE manifest file and returns it as JSON.
func (cp *CUEParser) ParseFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cp.parse(string(content), path)
}

func (cp *CUEParser) parse(content, filename string) ([]byte, error) {
	val := cp.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	unified, err := cp.schemaRegistry.Unify("module", val)
	if err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, cp.convertCUEErrors(err)
	}
	return data, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) error {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		})
	}

	if len(validationErrors) == 0 {
		return err
	}
	return validationErrors
}
