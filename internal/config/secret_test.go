package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret", s.Reveal())
}

func TestSecretEmpty(t *testing.T) {
	s := Secret("")
	assert.Equal(t, "", s.String())
	assert.Equal(t, `""`, s.GoString())
}

func TestSecretMarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: "super-secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")
}

func TestSecretMarshalYAML(t *testing.T) {
	data, err := yaml.Marshal(struct {
		Key Secret `yaml:"key"`
	}{Key: "super-secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")
}
