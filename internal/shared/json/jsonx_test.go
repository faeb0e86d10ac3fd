package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string         `json:"name"`
	Tags  []string       `json:"tags"`
	Extra map[string]any `json:"extra"`
}

func TestCloneIsDeep(t *testing.T) {
	src := payload{Name: "a", Tags: []string{"x"}, Extra: map[string]any{"n": 1}}

	dst, err := Clone(src)
	require.NoError(t, err)

	dst.Tags[0] = "y"
	dst.Extra["n"] = 2
	assert.Equal(t, "x", src.Tags[0])
	assert.Equal(t, 1, src.Extra["n"])
	assert.Equal(t, "a", dst.Name)
}

func TestCloneRejectsUnencodable(t *testing.T) {
	_, err := Clone(map[string]any{"fn": func() {}})
	assert.Error(t, err)
}
