// Package dom models the client's live document as a mutable tree and
// merges server-rendered fragments into it with an id-aware morph
// instead of a blind replace, so focus and in-progress input survive
// patches.
package dom

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NodeType distinguishes elements from text.
type NodeType int

const (
	// ElementNode is a tagged element.
	ElementNode NodeType = iota

	// TextNode is character data.
	TextNode
)

// Node is one node of the client document tree.
type Node struct {
	Type     NodeType
	Tag      string
	Attrs    map[string]string
	Text     string
	Children []*Node
	Parent   *Node
}

// NewElement creates a detached element node.
func NewElement(tag string, attrs map[string]string) *Node {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Node{Type: ElementNode, Tag: tag, Attrs: attrs}
}

// NewText creates a detached text node.
func NewText(text string) *Node {
	return &Node{Type: TextNode, Text: text}
}

// ID returns the element's id attribute.
func (n *Node) ID() string {
	if n.Type != ElementNode {
		return ""
	}
	return n.Attrs["id"]
}

// Attr returns the named attribute and whether it is present.
func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// SetAttr sets an attribute.
func (n *Node) SetAttr(name, value string) {
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	n.Attrs[name] = value
}

// RemoveAttr deletes an attribute.
func (n *Node) RemoveAttr(name string) {
	delete(n.Attrs, name)
}

// Append adds child as the last child of n.
func (n *Node) Append(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// TextContent concatenates all descendant text.
func (n *Node) TextContent() string {
	if n.Type == TextNode {
		return n.Text
	}
	var b strings.Builder
	for _, c := range n.Children {
		b.WriteString(c.TextContent())
	}
	return b.String()
}

// SetTextContent replaces the node's children with a single text node.
func (n *Node) SetTextContent(text string) {
	t := NewText(text)
	t.Parent = n
	n.Children = []*Node{t}
}

// FindByID searches the subtree rooted at n for an element with the
// given id.
func (n *Node) FindByID(id string) *Node {
	if n.Type == ElementNode && n.ID() == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.FindByID(id); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits n and every descendant in document order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Elements visits every element in the subtree in document order.
func (n *Node) Elements(fn func(*Node)) {
	n.Walk(func(node *Node) {
		if node.Type == ElementNode {
			fn(node)
		}
	})
}

// Parse parses an HTML fragment into a detached container node whose
// children are the fragment's top-level nodes.
func Parse(fragment string) (*Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil, err
	}
	root := NewElement("#fragment", nil)
	for _, hn := range parsed {
		if converted := convert(hn); converted != nil {
			root.Append(converted)
		}
	}
	return root, nil
}

func convert(hn *html.Node) *Node {
	switch hn.Type {
	case html.ElementNode:
		attrs := make(map[string]string, len(hn.Attr))
		for _, a := range hn.Attr {
			attrs[a.Key] = a.Val
		}
		n := NewElement(hn.Data, attrs)
		for c := hn.FirstChild; c != nil; c = c.NextSibling {
			if child := convert(c); child != nil {
				n.Append(child)
			}
		}
		return n
	case html.TextNode:
		return NewText(hn.Data)
	default:
		// Comments and doctypes carry nothing the engine reacts to.
		return nil
	}
}

// Render serializes the subtree back to HTML, attributes sorted for
// deterministic output in tests.
func (n *Node) Render() string {
	var b strings.Builder
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *strings.Builder) {
	switch n.Type {
	case TextNode:
		b.WriteString(html.EscapeString(n.Text))
	case ElementNode:
		if n.Tag == "#fragment" {
			for _, c := range n.Children {
				c.render(b)
			}
			return
		}
		b.WriteByte('<')
		b.WriteString(n.Tag)
		keys := make([]string, 0, len(n.Attrs))
		for k := range n.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(n.Attrs[k]))
			b.WriteByte('"')
		}
		b.WriteByte('>')
		for _, c := range n.Children {
			c.render(b)
		}
		b.WriteString("</")
		b.WriteString(n.Tag)
		b.WriteByte('>')
	}
}
