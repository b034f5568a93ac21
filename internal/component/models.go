// Package component implements the work-breakdown tree and keeps every
// non-leaf component's progress and actual cost equal to the aggregate of
// its children.
package component

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrComponentNotFound    = errors.New("component not found")
	ErrComponentHasChildren = errors.New("component has child components")
	ErrComponentHasTasks    = errors.New("component has linked tasks")
	ErrComponentNotLeaf     = errors.New("progress and actual cost of a component with children are derived")
	ErrInvalidParent        = errors.New("invalid parent component")
	ErrDuplicateComponent   = errors.New("component ID already in use")
)

// ComponentHasChildrenError blocks deletion of a non-leaf component.
type ComponentHasChildrenError struct {
	ComponentID string
	Children    int
}

func (e *ComponentHasChildrenError) Error() string {
	return fmt.Sprintf("component %s has %d child component(s); delete them first", e.ComponentID, e.Children)
}

func (e *ComponentHasChildrenError) Unwrap() error { return ErrComponentHasChildren }

// ComponentHasTasksError blocks deletion of a component that tasks still reference.
type ComponentHasTasksError struct {
	ComponentID string
	Tasks       int
}

func (e *ComponentHasTasksError) Error() string {
	return fmt.Sprintf("component %s has %d linked task(s)", e.ComponentID, e.Tasks)
}

func (e *ComponentHasTasksError) Unwrap() error { return ErrComponentHasTasks }

// Component is a node of a project's work-breakdown structure.
type Component struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id" validate:"required"`
	ParentID    string    `json:"parent_id,omitempty"`
	Name        string    `json:"name" validate:"required,max=255"`
	Progress    float64   `json:"progress" validate:"progress"`
	PlannedCost float64   `json:"planned_cost" validate:"gte=0"`
	ActualCost  float64   `json:"actual_cost" validate:"gte=0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsRoot reports whether c has no parent.
func (c *Component) IsRoot() bool { return c.ParentID == "" }

// ComponentUpdate carries a partial update; nil fields are left unchanged.
// Progress and ActualCost may only be set on leaves. A non-nil ParentID of ""
// moves the component to the root.
type ComponentUpdate struct {
	Name        *string
	PlannedCost *float64
	ParentID    *string
	Progress    *float64
	ActualCost  *float64
}

// Node is a component with its children loaded.
type Node struct {
	Component
	Children []*Node `json:"children,omitempty"`
}

// Walk visits n and its descendants depth-first, parents before children,
// using an explicit stack. fn receives the depth (0 for n).
func (n *Node) Walk(fn func(node *Node, depth int)) {
	type frame struct {
		node  *Node
		depth int
	}
	stack := []frame{{n, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(f.node, f.depth)
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Children[i], f.depth + 1})
		}
	}
}

// BuildForest assembles components into trees. Components whose parent is not
// in the slice become roots. Siblings are ordered by name, then ID. There is
// no depth limit.
func BuildForest(comps []Component) []*Node {
	nodes := make(map[string]*Node, len(comps))
	for i := range comps {
		nodes[comps[i].ID] = &Node{Component: comps[i]}
	}

	var roots []*Node
	for i := range comps {
		n := nodes[comps[i].ID]
		parent, ok := nodes[n.ParentID]
		if n.IsRoot() || !ok {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	sortNodes(roots)
	stack := append([]*Node(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sortNodes(n.Children)
		stack = append(stack, n.Children...)
	}
	return roots
}

func sortNodes(ns []*Node) {
	sort.Slice(ns, func(i, j int) bool {
		a, b := strings.ToLower(ns[i].Name), strings.ToLower(ns[j].Name)
		if a != b {
			return a < b
		}
		return ns[i].ID < ns[j].ID
	})
}
