// ABOUTME: Hierarchical table of contents attached to composite resources
// ABOUTME: Trees are walked iteratively with a depth bound

package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// MaxStructureDepth bounds the nesting of a Structure. The structure itself
// is depth 0 and its root nodes are depth 1.
const MaxStructureDepth = 256

// ErrStructureTooDeep is returned when a tree exceeds MaxStructureDepth.
var ErrStructureTooDeep = errors.New("structure exceeds maximum depth")

// Structure is a labelled list of root nodes.
type Structure struct {
	Label []string `json:"label,omitempty"`
	Nodes []*Node  `json:"nodes,omitempty"`
}

// Node is one entry of a Structure. Proxy, when set, references a member of
// the owning resource.
type Node struct {
	Label []string `json:"label,omitempty"`
	Proxy ID       `json:"proxy,omitempty"`
	Nodes []*Node  `json:"nodes,omitempty"`
}

type frame struct {
	nodes []*Node
	depth int
}

// Walk visits every node in document order. fn receives the node and its
// depth; returning an error stops the walk.
func (s *Structure) Walk(fn func(n *Node, depth int) error) error {
	if s == nil {
		return nil
	}
	stack := []frame{{nodes: s.Nodes, depth: 1}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if len(top.nodes) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		n := top.nodes[0]
		top.nodes = top.nodes[1:]
		depth := top.depth

		if depth > MaxStructureDepth {
			return fmt.Errorf("%w: %d", ErrStructureTooDeep, depth)
		}
		if n == nil {
			continue
		}
		if err := fn(n, depth); err != nil {
			return err
		}
		if len(n.Nodes) > 0 {
			stack = append(stack, frame{nodes: n.Nodes, depth: depth + 1})
		}
	}
	return nil
}

// Proxies returns every proxy in document order.
func (s *Structure) Proxies() ([]ID, error) {
	var out []ID
	err := s.Walk(func(n *Node, _ int) error {
		if !n.Proxy.IsZero() {
			out = append(out, n.Proxy)
		}
		return nil
	})
	return out, err
}

// Clone returns a deep copy. Nodes below MaxStructureDepth are not copied.
func (s *Structure) Clone() *Structure {
	if s == nil {
		return nil
	}
	out := &Structure{Label: slices.Clone(s.Label)}
	out.Nodes = cloneLevel(s.Nodes)

	type pair struct{ src, dst []*Node }
	queue := []pair{{s.Nodes, out.Nodes}}
	for depth := 1; len(queue) > 0 && depth < MaxStructureDepth; depth++ {
		var next []pair
		for _, p := range queue {
			for i, n := range p.src {
				if n == nil || len(n.Nodes) == 0 {
					continue
				}
				p.dst[i].Nodes = cloneLevel(n.Nodes)
				next = append(next, pair{n.Nodes, p.dst[i].Nodes})
			}
		}
		queue = next
	}
	return out
}

func cloneLevel(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		if n == nil {
			continue
		}
		out[i] = &Node{Label: slices.Clone(n.Label), Proxy: n.Proxy}
	}
	return out
}

// Equal compares two trees node by node.
func (s *Structure) Equal(o *Structure) bool {
	if s == nil || o == nil {
		return s == o
	}
	if !slices.Equal(s.Label, o.Label) {
		return false
	}

	type pair struct{ a, b []*Node }
	stack := []pair{{s.Nodes, o.Nodes}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(p.a) != len(p.b) {
			return false
		}
		for i := range p.a {
			a, b := p.a[i], p.b[i]
			if a == nil || b == nil {
				if a != b {
					return false
				}
				continue
			}
			if a.Proxy != b.Proxy || !slices.Equal(a.Label, b.Label) {
				return false
			}
			stack = append(stack, pair{a.Nodes, b.Nodes})
		}
	}
	return true
}

// Depth returns the deepest node level, or ErrStructureTooDeep.
func (s *Structure) Depth() (int, error) {
	deepest := 0
	err := s.Walk(func(_ *Node, depth int) error {
		deepest = max(deepest, depth)
		return nil
	})
	return deepest, err
}

// MarshalStructure encodes a tree as JSON after checking its depth.
func MarshalStructure(s *Structure) ([]byte, error) {
	if _, err := s.Depth(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// ParseStructure decodes JSON produced by MarshalStructure.
func ParseStructure(data []byte) (*Structure, error) {
	var s Structure
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse structure: %w", err)
	}
	if _, err := s.Depth(); err != nil {
		return nil, err
	}
	return &s, nil
}
