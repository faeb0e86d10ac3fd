package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() *TaskGraph {
	return &TaskGraph{ID: "pipeline", Nodes: []TaskGraphNode{
		{ID: "fetch", Agent: "http", Input: map[string]any{"url": "https://example.test"}},
		{ID: "parse", Agent: "parser", DependsOn: []string{"fetch"}, Retry: &RetryConfig{MaxAttempts: 3}},
		{ID: "publish", Agent: "publisher", DependsOn: []string{"parse"}, CompensationAgent: "unpublish"},
	}}
}

func TestReconstructGraphRoundTrip(t *testing.T) {
	g := sampleGraph()
	results := []NodeResult{
		{NodeID: "fetch", Status: NodeSucceeded, Attempts: 1},
		{NodeID: "parse", Status: NodeSkipped, Error: SkipReasonCanceled},
		{NodeID: "publish", Status: NodeSkipped, Error: SkipReasonCanceled},
	}
	s := &ExecutionSnapshot{
		ID:             "snap-1",
		GraphID:        g.ID,
		GraphSignature: Signature(g),
		Nodes:          SnapshotNodes(g, results),
	}

	rebuilt, ok := ReconstructGraph(s)
	require.True(t, ok)
	assert.Equal(t, g.ID, rebuilt.ID)
	assert.Equal(t, g.Nodes, rebuilt.Nodes)
	assert.Equal(t, Signature(g), Signature(rebuilt))
}

func TestReconstructGraphRefusesIncompleteSnapshots(t *testing.T) {
	g := sampleGraph()
	nodes := SnapshotNodes(g, nil)

	missingAgent := append([]SnapshotNode(nil), nodes...)
	missingAgent[1].Agent = ""
	_, ok := ReconstructGraph(&ExecutionSnapshot{GraphSignature: Signature(g), Nodes: missingAgent})
	assert.False(t, ok)

	_, ok = ReconstructGraph(&ExecutionSnapshot{GraphSignature: "sha256:nope", Nodes: nodes})
	assert.False(t, ok)

	_, ok = ReconstructGraph(&ExecutionSnapshot{})
	assert.False(t, ok)

	_, ok = ReconstructGraph(nil)
	assert.False(t, ok)
}

func TestIsRestartable(t *testing.T) {
	assert.True(t, IsRestartable(NodeResult{Status: NodePending}))
	assert.True(t, IsRestartable(NodeResult{Status: NodeRunning}))
	assert.True(t, IsRestartable(NodeResult{Status: NodeSkipped, Error: SkipReasonTimeout}))
	assert.True(t, IsRestartable(NodeResult{Status: NodeSkipped, Error: SkipReasonCanceled}))
	assert.False(t, IsRestartable(NodeResult{Status: NodeSkipped, Error: SkipReasonDependencyFailed}))
	assert.False(t, IsRestartable(NodeResult{Status: NodeFailed}))
	assert.False(t, IsRestartable(NodeResult{Status: NodeSucceeded}))
}
