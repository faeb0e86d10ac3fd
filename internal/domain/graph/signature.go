package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature fingerprints the structure of g: node ids and dependency edges.
// Node order, agents and inputs do not affect it.
func Signature(g *TaskGraph) string {
	h := sha256.New()
	if g == nil {
		return "sha256:" + hex.EncodeToString(h.Sum(nil))
	}

	nodes := make([]TaskGraphNode, len(g.Nodes))
	copy(nodes, g.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	for _, node := range nodes {
		deps := append([]string(nil), node.DependsOn...)
		sort.Strings(deps)
		h.Write([]byte(node.ID))
		h.Write([]byte{0})
		h.Write([]byte(strings.Join(deps, "\x1f")))
		h.Write([]byte{'\n'})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
