package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePlaceholdersKnownPath(t *testing.T) {
	vars := map[string]any{
		"result": map[string]any{
			"summary": "all clear",
			"nested":  map[string]any{"score": 9},
		},
	}
	out, err := resolvePlaceholders("Summary: {{result.summary}} (score {{result.nested.score}})", vars)
	require.NoError(t, err)
	assert.Equal(t, "Summary: all clear (score 9)", out)
}

func TestResolvePlaceholdersUnknownPathErrors(t *testing.T) {
	vars := map[string]any{"result": map[string]any{"summary": "ok"}}
	_, err := resolvePlaceholders("{{result.missing}}", vars)
	require.Error(t, err)
}

func TestResolvePlaceholdersNoPlaceholder(t *testing.T) {
	out, err := resolvePlaceholders("plain text", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestResolveParamsRecursesIntoNestedMaps(t *testing.T) {
	vars := map[string]any{"agent": map[string]any{"name": "triage"}}
	params := map[string]any{
		"payload": map[string]any{
			"message": "from {{agent.name}}",
		},
	}
	out, err := resolveParams(params, vars)
	require.NoError(t, err)
	payload := out["payload"].(map[string]any)
	assert.Equal(t, "from triage", payload["message"])
}
