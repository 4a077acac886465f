package dom

// Changes reports what a morph did, so the attribute processor can
// clean up removed nodes and process added or changed ones in a single
// subtree pass.
type Changes struct {
	Added   []*Node
	Removed []*Node
	Updated []*Node
}

// MorphOptions tune reconciliation.
type MorphOptions struct {
	// FocusedID is the id of the element that currently holds focus.
	// Its value attribute and children are left untouched so an
	// in-progress input survives the patch.
	FocusedID string
}

// Morph merges next's children into live, preferring identity by
// element id across the fragment and falling back to positional
// pairing by tag. The live tree is mutated in place.
func Morph(live, next *Node, opts MorphOptions) *Changes {
	ch := &Changes{}
	m := &morpher{opts: opts, changes: ch}
	m.children(live, next)
	return ch
}

type morpher struct {
	opts    MorphOptions
	changes *Changes
}

// node reconciles one paired node. Both are non-nil and already known
// to be compatible (same type and tag).
func (m *morpher) node(live, next *Node) {
	if live.Type == TextNode {
		if live.Text != next.Text {
			live.Text = next.Text
			if live.Parent != nil {
				m.changes.Updated = append(m.changes.Updated, live.Parent)
			}
		}
		return
	}

	focused := m.opts.FocusedID != "" && live.ID() == m.opts.FocusedID
	if m.attrs(live, next, focused) {
		m.changes.Updated = append(m.changes.Updated, live)
	}
	if focused {
		// The user is mid-edit here; leave the subtree alone.
		return
	}
	m.children(live, next)
}

// attrs syncs attributes from next onto live, reporting whether
// anything changed. The focused element keeps its live value.
func (m *morpher) attrs(live, next *Node, focused bool) bool {
	changed := false
	for k, v := range next.Attrs {
		if focused && k == "value" {
			continue
		}
		if cur, ok := live.Attrs[k]; !ok || cur != v {
			live.SetAttr(k, v)
			changed = true
		}
	}
	for k := range live.Attrs {
		if focused && k == "value" {
			continue
		}
		if _, ok := next.Attrs[k]; !ok {
			live.RemoveAttr(k)
			changed = true
		}
	}
	return changed
}

// children pairs live children with next children: by id when both
// sides carry one, else positionally among the unmatched, replacing on
// tag mismatch.
func (m *morpher) children(live, next *Node) {
	// Index live children by id for cross-position matching.
	liveByID := map[string]*Node{}
	for _, c := range live.Children {
		if id := c.ID(); id != "" {
			liveByID[id] = c
		}
	}

	matched := map[*Node]bool{}
	newChildren := make([]*Node, 0, len(next.Children))

	// Live children without an id are consumed positionally.
	positional := make([]*Node, 0, len(live.Children))
	for _, c := range live.Children {
		if c.ID() == "" {
			positional = append(positional, c)
		}
	}
	pos := 0

	for _, nc := range next.Children {
		var lc *Node

		if id := nc.ID(); id != "" {
			lc = liveByID[id]
		} else if pos < len(positional) {
			lc = positional[pos]
			pos++
		}

		if lc != nil && lc.Type == nc.Type && (lc.Type != ElementNode || lc.Tag == nc.Tag) {
			matched[lc] = true
			m.node(lc, nc)
			lc.Parent = live
			newChildren = append(newChildren, lc)
			continue
		}

		// No compatible live counterpart: adopt the new node.
		if lc != nil {
			// The positional slot held an incompatible node; it will
			// be reported removed below.
		}
		adopted := nc
		adopted.Parent = live
		newChildren = append(newChildren, adopted)
		m.added(adopted)
	}

	for _, c := range live.Children {
		if !matched[c] {
			c.Parent = nil
			m.removed(c)
		}
	}
	live.Children = newChildren
}

func (m *morpher) added(n *Node) {
	if n.Type == ElementNode {
		m.changes.Added = append(m.changes.Added, n)
	}
}

func (m *morpher) removed(n *Node) {
	if n.Type == ElementNode {
		m.changes.Removed = append(m.changes.Removed, n)
	}
}
