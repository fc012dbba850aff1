package calltree

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alextreichler/threadViewer/internal/intern"
)

// HotPath is a root-to-leaf path with the samples that reached its leaf.
type HotPath struct {
	Path       []string `json:"path"`
	Samples    int64    `json:"samples"`
	Percentage float64  `json:"percentage"`
}

// HotPaths returns the topN paths by self samples at their last node.
func (f *Forest) HotPaths(topN int) []HotPath {
	total := f.TotalSamples()
	var paths []HotPath
	var walk func(n *Node, prefix []string)
	walk = func(n *Node, prefix []string) {
		path := append(prefix[:len(prefix):len(prefix)], n.Name.String())
		if self := n.Self(); self > 0 {
			hp := HotPath{Path: path, Samples: self}
			if total > 0 {
				hp.Percentage = float64(self) / float64(total) * 100
			}
			paths = append(paths, hp)
		}
		for _, c := range n.Children {
			walk(c, path)
		}
	}
	for _, r := range f.roots {
		walk(r, nil)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Samples != paths[j].Samples {
			return paths[i].Samples > paths[j].Samples
		}
		return len(paths[i].Path) > len(paths[j].Path)
	})
	if topN > 0 && len(paths) > topN {
		paths = paths[:topN]
	}
	return paths
}

// Collapsed renders the forest in folded-stack form, one "a;b;c N" line per
// path with self samples, sorted for stable output.
func (f *Forest) Collapsed() []string {
	var lines []string
	var walk func(n *Node, prefix string)
	walk = func(n *Node, prefix string) {
		stack := n.Name.String()
		if prefix != "" {
			stack = prefix + ";" + stack
		}
		if self := n.Self(); self > 0 {
			lines = append(lines, fmt.Sprintf("%s %d", stack, self))
		}
		for _, c := range n.Children {
			walk(c, stack)
		}
	}
	for _, r := range f.roots {
		walk(r, "")
	}
	sort.Strings(lines)
	return lines
}

// ParseCollapsed rebuilds a forest from Collapsed output. Sample counts match
// the original forest; node order may not.
func ParseCollapsed(lines []string, in *intern.Interner) (*Forest, error) {
	f := NewForest()
	for _, line := range lines {
		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 {
			return nil, fmt.Errorf("malformed collapsed line %q", line)
		}
		n, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed sample count in %q", line)
		}
		names := strings.Split(line[:idx], ";")
		node := f.rootFor(in.Intern(names[0]))
		node.Samples += n
		for _, name := range names[1:] {
			h := in.Intern(name)
			child := node.child(h)
			if child == nil {
				child = &Node{Name: h}
				node.Children = append(node.Children, child)
			}
			child.Samples += n
			node = child
		}
	}
	return f, nil
}

// FlameNode is a JSON-friendly view of the forest for flame-graph rendering.
type FlameNode struct {
	Name       string       `json:"name"`
	Value      int64        `json:"value"`
	Self       int64        `json:"self"`
	Percentage float64      `json:"percentage"`
	Children   []*FlameNode `json:"children,omitempty"`
}

// ToFlame wraps all roots under one synthetic "all" node. maxDepth <= 0 means
// no limit.
func (f *Forest) ToFlame(maxDepth int) *FlameNode {
	total := f.TotalSamples()
	root := &FlameNode{Name: "all", Value: total, Percentage: 100}
	for _, r := range f.roots {
		root.Children = append(root.Children, toFlame(r, total, 1, maxDepth))
	}
	return root
}

func toFlame(n *Node, total int64, depth, maxDepth int) *FlameNode {
	fn := &FlameNode{Name: n.Name.String(), Value: n.Samples, Self: n.Self()}
	if total > 0 {
		fn.Percentage = float64(n.Samples) / float64(total) * 100
	}
	if maxDepth > 0 && depth >= maxDepth {
		return fn
	}
	for _, c := range n.Children {
		fn.Children = append(fn.Children, toFlame(c, total, depth+1, maxDepth))
	}
	return fn
}

// String is a compact indented dump, mainly for logs and tests.
func (f *Forest) String() string {
	var b strings.Builder
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		fmt.Fprintf(&b, "%s%s (%d)\n", strings.Repeat("  ", depth), n.Name.String(), n.Samples)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, r := range f.roots {
		walk(r, 0)
	}
	return b.String()
}
