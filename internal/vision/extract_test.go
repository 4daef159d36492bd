package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_Plain(t *testing.T) {
	out, err := ExtractJSON(`{"summary": "a desk", "people_count": 1}`)
	require.NoError(t, err)
	assert.Equal(t, "a desk", out["summary"])
}

func TestExtractJSON_Fenced(t *testing.T) {
	text := "Here you go:\n```json\n{\"summary\": \"empty room\"}\n```\nHope that helps."
	out, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "empty room", out["summary"])
}

func TestExtractJSON_SurroundingProse(t *testing.T) {
	text := `The scene shows the following. {"summary": "kitchen", "objects": ["kettle"]} Let me know if you need more.`
	out, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", out["summary"])
}

func TestExtractJSON_TruncatedArray(t *testing.T) {
	// Cut mid-array, the way max_tokens truncation looks.
	text := `{"scene": {"summary": "office"}, "evaluations": [{"rule_id": "r_1", "triggered": true, "confidence": 0.9`
	out, err := ExtractJSON(text)
	require.NoError(t, err)
	scene, ok := out["scene"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "office", scene["summary"])
}

func TestExtractJSON_TruncatedInString(t *testing.T) {
	text := `{"summary": "a person walks tow`
	out, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "a person walks tow", out["summary"])
}

func TestExtractJSON_TrailingComma(t *testing.T) {
	text := `{"summary": "hall", "objects": ["door"],`
	out, err := ExtractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "hall", out["summary"])
}

func TestExtractJSON_NoObject(t *testing.T) {
	_, err := ExtractJSON("I cannot see anything unusual in this image.")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	out, err := ExtractJSON(`{"summary": "sign reads {exit}", "people_count": 0}`)
	require.NoError(t, err)
	assert.Equal(t, "sign reads {exit}", out["summary"])
}
