package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileStringAndValidate(t *testing.T) {
	s, err := NewCompiler().CompileString(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"age": {"type": "integer", "minimum": 0}
		},
		"required": ["name"]
	}`)
	require.NoError(t, err)

	assert.NoError(t, Validate(s, map[string]interface{}{"name": "ada", "age": 36}))
	assert.Error(t, Validate(s, map[string]interface{}{"age": 36}))
	assert.Error(t, Validate(s, map[string]interface{}{"name": "ada", "age": -1}))
}

func TestCompileInvalidSchema(t *testing.T) {
	_, err := NewCompiler().CompileString(`{"type": "nonsense"}`)
	assert.Error(t, err)
}

func TestCompileWithRefs(t *testing.T) {
	ref := `{
		"$id": "http://example.com/name.json",
		"type": "string",
		"minLength": 1
	}`
	c := NewCompiler(ref)
	s, err := c.CompileString(`{
		"type": "object",
		"properties": {
			"name": {"$ref": "http://example.com/name.json"}
		}
	}`)
	require.NoError(t, err)

	assert.NoError(t, Validate(s, map[string]interface{}{"name": "ada"}))
	assert.Error(t, Validate(s, map[string]interface{}{"name": ""}))
}

func TestRefWithoutIDIsRejected(t *testing.T) {
	c := NewCompiler(`{"type": "string"}`)
	_, err := c.CompileString(`{"type": "object"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$id")
}

func TestCompileGoValue(t *testing.T) {
	s, err := NewCompiler().Compile(map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"type": "string",
		},
	})
	require.NoError(t, err)
	assert.NoError(t, Validate(s, []interface{}{"a", "b"}))
	assert.Error(t, Validate(s, []interface{}{1}))
}
