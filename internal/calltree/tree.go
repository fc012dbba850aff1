package calltree

import (
	"sort"

	"github.com/alextreichler/threadViewer/internal/intern"
)

// Node is one method on an observed call path. Samples counts the threads
// that passed through the path ending here.
type Node struct {
	Name     intern.Handle `json:"method_name"`
	Samples  int64         `json:"samples"`
	Children []*Node       `json:"next,omitempty"`
}

// child does a linear scan; fan-out per node is small in practice.
func (n *Node) child(name intern.Handle) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// childByValue falls back to string comparison for nodes interned elsewhere.
func (n *Node) childByValue(name intern.Handle) *Node {
	if c := n.child(name); c != nil {
		return c
	}
	s := name.String()
	for _, c := range n.Children {
		if c.Name.String() == s {
			return c
		}
	}
	return nil
}

// Self is the number of samples that ended at this node.
func (n *Node) Self() int64 {
	self := n.Samples
	for _, c := range n.Children {
		self -= c.Samples
	}
	if self < 0 {
		return 0
	}
	return self
}

func (n *Node) clone() *Node {
	c := &Node{Name: n.Name, Samples: n.Samples}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.clone()
		}
	}
	return c
}

// Forest has one root per distinct outermost method.
type Forest struct {
	roots []*Node
	index map[intern.Handle]*Node
}

func NewForest() *Forest {
	return &Forest{index: make(map[intern.Handle]*Node)}
}

func (f *Forest) Roots() []*Node { return f.roots }

func (f *Forest) Len() int { return len(f.roots) }

// Root finds a root by method name.
func (f *Forest) Root(name string) *Node {
	for _, r := range f.roots {
		if r.Name.String() == name {
			return r
		}
	}
	return nil
}

func (f *Forest) rootFor(name intern.Handle) *Node {
	if r, ok := f.index[name]; ok {
		return r
	}
	r := &Node{Name: name}
	f.roots = append(f.roots, r)
	f.index[name] = r
	return r
}

func (f *Forest) rootByValue(name intern.Handle) *Node {
	if r, ok := f.index[name]; ok {
		return r
	}
	return f.Root(name.String())
}

func (f *Forest) TotalSamples() int64 {
	var total int64
	for _, r := range f.roots {
		total += r.Samples
	}
	return total
}

// Sort orders roots and children by samples, heaviest first, then by name.
func (f *Forest) Sort() {
	sortNodes(f.roots)
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Samples != nodes[j].Samples {
			return nodes[i].Samples > nodes[j].Samples
		}
		return nodes[i].Name.String() < nodes[j].Name.String()
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}
