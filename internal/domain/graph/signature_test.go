package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureIgnoresOrderAndPayload(t *testing.T) {
	a := &TaskGraph{ID: "g", Nodes: []TaskGraphNode{
		{ID: "x", Agent: "echo"},
		{ID: "y", Agent: "echo", DependsOn: []string{"x", "z"}},
		{ID: "z", Agent: "echo"},
	}}
	b := &TaskGraph{ID: "other", Nodes: []TaskGraphNode{
		{ID: "z", Agent: "sleep", Input: map[string]any{"k": 1}},
		{ID: "y", Agent: "fail", DependsOn: []string{"z", "x"}},
		{ID: "x", Agent: "echo"},
	}}

	assert.True(t, strings.HasPrefix(Signature(a), "sha256:"))
	assert.Equal(t, Signature(a), Signature(b))
}

func TestSignatureChangesWithStructure(t *testing.T) {
	base := &TaskGraph{Nodes: []TaskGraphNode{{ID: "x"}, {ID: "y", DependsOn: []string{"x"}}}}
	dropEdge := &TaskGraph{Nodes: []TaskGraphNode{{ID: "x"}, {ID: "y"}}}
	addNode := &TaskGraph{Nodes: []TaskGraphNode{{ID: "x"}, {ID: "y", DependsOn: []string{"x"}}, {ID: "z"}}}
	renamed := &TaskGraph{Nodes: []TaskGraphNode{{ID: "x"}, {ID: "yy", DependsOn: []string{"x"}}}}

	sig := Signature(base)
	assert.NotEqual(t, sig, Signature(dropEdge))
	assert.NotEqual(t, sig, Signature(addNode))
	assert.NotEqual(t, sig, Signature(renamed))
	assert.Equal(t, Signature(nil), Signature(nil))
}
