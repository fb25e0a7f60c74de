package serde

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
)

var (
	documentSchemaOnce   sync.Once
	documentSchemaLoader gojsonschema.JSONLoader
	documentSchemaErr    error
)

// documentSchema reflects the JSON schema for Document once and caches
// the compiled loader. The id newtypes serialize as strings, so the
// reflector maps them explicitly instead of descending into their
// underlying types.
func documentSchema() (gojsonschema.JSONLoader, error) {
	documentSchemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			DoNotReference: true,
			Mapper: func(t reflect.Type) *jsonschema.Schema {
				switch t {
				case reflect.TypeOf(conversation.MessageID{}):
					return &jsonschema.Schema{Type: "string", Format: "uuid"}
				case reflect.TypeOf(conversation.BranchID("")):
					return &jsonschema.Schema{Type: "string"}
				}
				return nil
			},
		}

		schema := reflector.Reflect(&Document{})
		// gojsonschema only speaks up to draft-07.
		schema.Version = "http://json-schema.org/draft-07/schema#"

		b, err := json.Marshal(schema)
		if err != nil {
			documentSchemaErr = errors.Wrap(err, "encoding document schema")
			return
		}
		documentSchemaLoader = gojsonschema.NewBytesLoader(b)
	})

	return documentSchemaLoader, documentSchemaErr
}

// validateJSON checks raw document bytes against the reflected schema and
// folds all violations into a single descriptive error.
func validateJSON(b []byte) error {
	loader, err := documentSchema()
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(b))
	if err != nil {
		return errors.Wrap(err, "validating document")
	}
	if result.Valid() {
		return nil
	}

	descriptions := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		descriptions = append(descriptions, resultError.String())
	}
	return errors.Errorf("invalid document: %s", strings.Join(descriptions, "; "))
}
