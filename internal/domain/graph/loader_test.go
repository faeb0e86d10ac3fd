package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineYAML = `
id: nightly-report
nodes:
  - id: fetch
    agent: echo
    input:
      source: warehouse
  - id: transform
    agent: flaky
    depends_on: [fetch]
    retry:
      max_attempts: 3
      backoff:
        base_delay_ms: 200
        factor: 2
        jitter_ms: 50
  - id: publish
    agent: echo
    depends_on: [transform]
    compensation_agent: echo
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o644))

	g, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "nightly-report", g.ID)
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, map[string]any{"source": "warehouse"}, g.Nodes[0].Input)

	transform := g.Nodes[1]
	assert.Equal(t, []string{"fetch"}, transform.DependsOn)
	require.NotNil(t, transform.Retry)
	assert.Equal(t, 3, transform.Retry.MaxAttempts)
	assert.Equal(t, &Backoff{BaseDelayMs: 200, Factor: 2, JitterMs: 50}, transform.Retry.Backoff)
	assert.Equal(t, "echo", g.Nodes[2].CompensationAgent)
}

func TestParseRejectsInvalidGraphs(t *testing.T) {
	_, err := Parse([]byte("id: g\nnodes:\n  - id: a\n    agent: echo\n    depends_on: [b]\n"))
	assert.ErrorIs(t, err, ErrUnknownDependency)

	_, err = Parse([]byte("id: g\nnodes:\n  - id: a\n    agnet: echo\n"))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
