package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["templateId"],
	"properties": {
		"templateId": {"type": "string", "minLength": 1},
		"seed": {"type": "object"},
		"attempts": {"type": "integer", "minimum": 1}
	}
}`

func TestSchema_ValidateBytes(t *testing.T) {
	schema := MustSchema(testSchema)

	tests := []struct {
		name      string
		document  string
		wantValid bool
		wantField string
	}{
		{"valid", `{"templateId": "T1", "seed": {"accountId": "A"}}`, true, ""},
		{"missing required", `{"seed": {}}`, false, ""},
		{"wrong type", `{"templateId": "T1", "seed": []}`, false, "seed"},
		{"below minimum", `{"templateId": "T1", "attempts": 0}`, false, "attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := schema.ValidateBytes([]byte(tt.document))
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
			if tt.wantField != "" {
				assert.True(t, result.HasErrors(tt.wantField), result.GetErrorMessages())
			}
			if !tt.wantValid {
				assert.NotEmpty(t, result.GetErrorMessages())
			}
		})
	}
}

func TestSchema_NotJSON(t *testing.T) {
	schema := MustSchema(testSchema)

	_, err := schema.ValidateBytes([]byte(`{not json`))
	assert.Error(t, err)
}

func TestNewSchema_Invalid(t *testing.T) {
	_, err := NewSchema(`{"type": 12}`)
	assert.Error(t, err)
}

func TestSchema_ValidateInput(t *testing.T) {
	schema := MustSchema(testSchema)

	result, err := schema.ValidateInput(map[string]interface{}{"templateId": ""})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.HasErrors("templateId"))
}
