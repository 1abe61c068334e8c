// Package models defines the core domain models for template-driven task workflows.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeType represents the kind of work a node produces.
type NodeType string

const (
	NodeTypeTask       NodeType = "task"
	NodeTypeApproval   NodeType = "approval"
	NodeTypeForm       NodeType = "form"
	NodeTypeAutomation NodeType = "automation"
)

// IsKnown reports whether the type is one of the supported node types.
func (t NodeType) IsKnown() bool {
	switch t {
	case NodeTypeTask, NodeTypeApproval, NodeTypeForm, NodeTypeAutomation:
		return true
	default:
		return false
	}
}

// RequirementSeparator splits a requirement into node id and outcome label.
// Node ids may not contain it.
const RequirementSeparator = ":"

var (
	ErrEmptyRequirement        = errors.New("requirement node id is empty")
	ErrEmptyRequirementOutcome = errors.New("requirement outcome label is empty")
)

// Requirement is a finish-to-start dependency on another node.
// An empty Outcome accepts any completion of NodeID; otherwise the dependency
// only holds when NodeID completed with exactly that outcome.
type Requirement struct {
	NodeID  string
	Outcome string
}

// AnyOutcome builds a requirement satisfied by any completion of nodeID.
func AnyOutcome(nodeID string) Requirement {
	return Requirement{NodeID: nodeID}
}

// WithOutcome builds a requirement satisfied only by the given outcome of nodeID.
func WithOutcome(nodeID, outcome string) Requirement {
	return Requirement{NodeID: nodeID, Outcome: outcome}
}

// ParseRequirement parses the "nodeId" or "nodeId:outcome" form.
func ParseRequirement(raw string) (Requirement, error) {
	raw = strings.TrimSpace(raw)

	nodeID, outcome, hasOutcome := strings.Cut(raw, RequirementSeparator)
	if nodeID == "" {
		return Requirement{}, fmt.Errorf("%w: %q", ErrEmptyRequirement, raw)
	}

	if hasOutcome && outcome == "" {
		return Requirement{}, fmt.Errorf("%w: %q", ErrEmptyRequirementOutcome, raw)
	}

	return Requirement{NodeID: nodeID, Outcome: outcome}, nil
}

// IsSpecific reports whether the requirement demands a particular outcome.
func (r Requirement) IsSpecific() bool {
	return r.Outcome != ""
}

// Key returns the entry this requirement looks up in a satisfied set.
func (r Requirement) Key() string {
	return SatisfiedKey(r.NodeID, r.Outcome)
}

func (r Requirement) String() string {
	return r.Key()
}

func (r Requirement) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Requirement) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("requirement must be a string: %w", err)
	}

	parsed, err := ParseRequirement(raw)
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}

func (r Requirement) MarshalYAML() (any, error) {
	return r.String(), nil
}

func (r *Requirement) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("requirement must be a string: %w", err)
	}

	parsed, err := ParseRequirement(raw)
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}

// SatisfiedKey renders the satisfied-set key for a node and an optional outcome.
func SatisfiedKey(nodeID, outcome string) string {
	if outcome == "" {
		return nodeID
	}

	return nodeID + RequirementSeparator + outcome
}

// WorkflowNode is one step definition inside a template graph.
type WorkflowNode struct {
	ID       string        `json:"id"                  yaml:"id"                  validate:"required"`
	Type     NodeType      `json:"type"                yaml:"type"`
	Title    string        `json:"title"               yaml:"title"               validate:"required"`
	Role     string        `json:"role,omitempty"      yaml:"role,omitempty"`
	SLAHours *int          `json:"sla_hours,omitempty" yaml:"sla_hours,omitempty" validate:"omitempty,min=0"`
	Requires []Requirement `json:"requires,omitempty"  yaml:"requires,omitempty"`
	Outputs  []string      `json:"outputs,omitempty"   yaml:"outputs,omitempty"`
}

// EffectiveType returns the node type, defaulting to task.
func (n *WorkflowNode) EffectiveType() NodeType {
	if n.Type == "" {
		return NodeTypeTask
	}

	return n.Type
}

// IsStart reports whether the node has no requirements.
func (n *WorkflowNode) IsStart() bool {
	return len(n.Requires) == 0
}

// AllowsOutcome reports whether outcome is permitted; nodes without outputs accept anything.
func (n *WorkflowNode) AllowsOutcome(outcome string) bool {
	if len(n.Outputs) == 0 {
		return true
	}

	for _, output := range n.Outputs {
		if output == outcome {
			return true
		}
	}

	return false
}

// WorkflowSpec is the immutable directed graph of a template.
type WorkflowSpec struct {
	Nodes []*WorkflowNode `json:"nodes" yaml:"nodes" validate:"dive"`
}

// Node returns the node with the given id, or nil.
func (s *WorkflowSpec) Node(id string) *WorkflowNode {
	if s == nil {
		return nil
	}

	for _, node := range s.Nodes {
		if node != nil && node.ID == id {
			return node
		}
	}

	return nil
}

// StartNodes returns the nodes without requirements, in spec order.
func (s *WorkflowSpec) StartNodes() []*WorkflowNode {
	if s == nil {
		return nil
	}

	starts := make([]*WorkflowNode, 0)

	for _, node := range s.Nodes {
		if node != nil && node.IsStart() {
			starts = append(starts, node)
		}
	}

	return starts
}
