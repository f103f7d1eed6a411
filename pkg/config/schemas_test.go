package config

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
)

func setupSchemaRegistry(t *testing.T) *SchemaRegistry {
	t.Helper()
	return newSchemaRegistry(cuecontext.New())
}

// validateSchema encodes data and unifies it with the named schema.
func validateSchema(t *testing.T, sr *SchemaRegistry, name string, data interface{}) error {
	t.Helper()
	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		t.Fatalf("failed to encode data: %v", err)
	}
	_, err := sr.Unify(name, val)
	return err
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := setupSchemaRegistry(t)

	for _, name := range []string{"module", "runnable", "service"} {
		schema, ok := sr.GetSchema(name)
		if !ok {
			t.Fatalf("built-in schema %s not found", name)
		}
		if schema.Err() != nil {
			t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
		}
	}
}

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := setupSchemaRegistry(t)

	err := sr.RegisterDefinition("custom", `
#CustomType: {
	field1: string
	field2: int
}
`, "#CustomType")
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	if _, ok := sr.GetSchema("custom"); !ok {
		t.Fatal("expected to find custom schema")
	}

	if err := validateSchema(t, sr, "custom", map[string]interface{}{"field1": "a", "field2": 1}); err != nil {
		t.Errorf("expected valid data, got %v", err)
	}
	if err := validateSchema(t, sr, "custom", map[string]interface{}{"field1": "a"}); err == nil {
		t.Error("expected error for missing field2")
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	sr := setupSchemaRegistry(t)

	if err := sr.RegisterDefinition("broken", `#X: {`, ""); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterDefinition("missing", `#X: string`, "#Y"); err == nil {
		t.Error("expected error for missing definition")
	}
	if err := validateSchema(t, sr, "nope", map[string]interface{}{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestSchemaRegistry_ValidateService(t *testing.T) {
	sr := setupSchemaRegistry(t)

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "minimal",
			data: map[string]interface{}{"name": "api", "start": "./api"},
		},
		{
			name: "runnable forms",
			data: map[string]interface{}{
				"name":  "api",
				"start": "./api",
				"value_providers": map[string]interface{}{
					"a": "echo a",
					"b": []interface{}{"echo", map[string]interface{}{"script": "output = 1"}},
					"c": map[string]interface{}{"steps": []interface{}{"echo c"}, "label": "c"},
				},
			},
		},
		{
			name:    "bad name",
			data:    map[string]interface{}{"name": "_api", "start": "./api"},
			wantErr: true,
		},
		{
			name:    "empty start",
			data:    map[string]interface{}{"name": "api", "start": ""},
			wantErr: true,
		},
		{
			name:    "unknown field",
			data:    map[string]interface{}{"name": "api", "start": "./api", "replicas": 2},
			wantErr: true,
		},
		{
			name: "bad value identifier",
			data: map[string]interface{}{
				"name":      "api",
				"start":     "./api",
				"value_env": map[string]interface{}{"URL": "db"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSchema(t, sr, "service", tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Unify() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
