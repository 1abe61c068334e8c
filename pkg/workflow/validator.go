// Package workflow turns template graphs into tasks and advances them as tasks complete.
package workflow

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/taskflow/pkg/models"
)

// Validate checks a spec for structural soundness and returns every violation
// found. An empty result means the spec may be activated.
func Validate(spec *models.WorkflowSpec) []string {
	if spec == nil || len(spec.Nodes) == 0 {
		return []string{"spec has no nodes"}
	}

	var violations []string

	nodes := make(map[string]*models.WorkflowNode, len(spec.Nodes))
	order := make([]string, 0, len(spec.Nodes))

	for i, node := range spec.Nodes {
		if node == nil || node.ID == "" {
			violations = append(violations, fmt.Sprintf("node at position %d has no id", i))

			continue
		}

		if _, exists := nodes[node.ID]; exists {
			violations = append(violations, fmt.Sprintf("duplicate node id %q", node.ID))

			continue
		}

		if strings.Contains(node.ID, models.RequirementSeparator) {
			violations = append(violations, fmt.Sprintf("node id %q must not contain %q", node.ID, models.RequirementSeparator))
		}

		if node.Type != "" && !node.Type.IsKnown() {
			violations = append(violations, fmt.Sprintf("node %q has unknown type %q", node.ID, node.Type))
		}

		nodes[node.ID] = node
		order = append(order, node.ID)
	}

	for _, id := range order {
		for _, req := range nodes[id].Requires {
			if _, exists := nodes[req.NodeID]; !exists {
				violations = append(violations, fmt.Sprintf("node %q requires unknown node %q", id, req.NodeID))
			}
		}
	}

	for _, cycle := range findCycles(nodes, order) {
		violations = append(violations, "cycle detected: "+strings.Join(cycle, " -> "))
	}

	hasStart := false

	for _, id := range order {
		if nodes[id].IsStart() {
			hasStart = true

			break
		}
	}

	if !hasStart {
		violations = append(violations, "spec has no start node (a node without requirements)")
	}

	for _, id := range order {
		for _, req := range nodes[id].Requires {
			target, exists := nodes[req.NodeID]
			if !exists || !req.IsSpecific() || len(target.Outputs) == 0 {
				continue
			}

			if !slices.Contains(target.Outputs, req.Outcome) {
				violations = append(violations, fmt.Sprintf(
					"node %q requires outcome %q of node %q, which only declares outputs [%s]",
					id, req.Outcome, req.NodeID, strings.Join(target.Outputs, ", "),
				))
			}
		}
	}

	return violations
}

// findCycles walks the dependency graph depth first, keeping a recursion stack,
// and reports one node sequence per back edge. Outcome labels are ignored.
func findCycles(nodes map[string]*models.WorkflowNode, order []string) [][]string {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[string]int, len(order))
	stack := make([]string, 0, len(order))

	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting
		stack = append(stack, id)

		for _, req := range nodes[id].Requires {
			if _, exists := nodes[req.NodeID]; !exists {
				continue
			}

			switch state[req.NodeID] {
			case unvisited:
				visit(req.NodeID)
			case visiting:
				start := slices.Index(stack, req.NodeID)
				cycle := append(slices.Clone(stack[start:]), req.NodeID)
				cycles = append(cycles, cycle)
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = visited
	}

	for _, id := range order {
		if state[id] == unvisited {
			visit(id)
		}
	}

	return cycles
}
