package anomaly

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestProfile_YAMLKeepsDeclarationOrder(t *testing.T) {
	src := `
random_noise: 2
size_overflow: 5
boundary_values: 1
`
	var p Profile
	require.NoError(t, yaml.Unmarshal([]byte(src), &p))

	require.Len(t, p, 3)
	assert.Equal(t, RandomNoise, p[0].Category)
	assert.Equal(t, SizeOverflow, p[1].Category)
	assert.Equal(t, BoundaryValues, p[2].Category)
	assert.Equal(t, 5, p[1].Weight)
}

func TestProfile_YAMLRejectsSequence(t *testing.T) {
	var p Profile
	err := yaml.Unmarshal([]byte("- null_bytes\n"), &p)
	assert.Error(t, err)
}

func TestProfile_JSONKeepsDeclarationOrder(t *testing.T) {
	var p Profile
	require.NoError(t, json.Unmarshal([]byte(`{"null_bytes": 1, "format_strings": 4}`), &p))
	require.Len(t, p, 2)
	assert.Equal(t, NullBytes, p[0].Category)
	assert.Equal(t, FormatStrings, p[1].Category)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"null_bytes":1,"format_strings":4}`, string(out))
}

func TestProfile_JSONNull(t *testing.T) {
	p := Profile{{NullBytes, 1}}
	require.NoError(t, json.Unmarshal([]byte(`null`), &p))
	assert.Nil(t, p)
}

func TestProfile_Validate(t *testing.T) {
	assert.NoError(t, Profile{{NullBytes, 1}, {SizeOverflow, 0}}.Validate())
	assert.Error(t, Profile{{NullBytes, -1}}.Validate())
	assert.Error(t, Profile{{NullBytes, 1}, {NullBytes, 2}}.Validate())
}

func TestCategory_Known(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Known(), c)
	}
	assert.False(t, Category("sql_injection").Known())
}
