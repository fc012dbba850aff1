package calltree

// Merge folds other into f. Nodes on identical paths are unioned by summing
// samples, so merging is associative and commutative. other is not modified
// and shares no nodes with f afterwards.
func (f *Forest) Merge(other *Forest) {
	if other == nil {
		return
	}
	for _, r := range other.roots {
		existing := f.rootByValue(r.Name)
		if existing == nil {
			c := r.clone()
			f.roots = append(f.roots, c)
			f.index[c.Name] = c
			continue
		}
		mergeNode(existing, r)
	}
}

func mergeNode(dst, src *Node) {
	dst.Samples += src.Samples
	for _, sc := range src.Children {
		if dc := dst.childByValue(sc.Name); dc != nil {
			mergeNode(dc, sc)
			continue
		}
		dst.Children = append(dst.Children, sc.clone())
	}
}
