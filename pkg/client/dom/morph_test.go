package dom

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, fragment string) *Node {
	t.Helper()
	n, err := Parse(fragment)
	if err != nil {
		t.Fatalf("Parse(%q): %v", fragment, err)
	}
	return n
}

func TestParseAcceptsFragments(t *testing.T) {
	fragments := []string{
		``,
		`plain text`,
		`<p id="t" data-text="'two'"></p>`,
		`<div id="a"><input value="x"><span class="s">nested</span></div>`,
	}
	for _, f := range fragments {
		if _, err := Parse(f); err != nil {
			t.Errorf("Parse(%q): %v", f, err)
		}
	}
}

func TestParseAndRender(t *testing.T) {
	n := mustParse(t, `<div id="app"><p>hello</p></div>`)
	got := n.Render()
	if got != `<div id="app"><p>hello</p></div>` {
		t.Errorf("Render = %q", got)
	}
}

func TestFindByID(t *testing.T) {
	n := mustParse(t, `<div id="a"><span id="b">x</span></div><p id="c"></p>`)
	if found := n.FindByID("b"); found == nil || found.Tag != "span" {
		t.Errorf("FindByID(b) = %v", found)
	}
	if found := n.FindByID("missing"); found != nil {
		t.Errorf("FindByID(missing) = %v", found)
	}
}

func TestMorphTextChange(t *testing.T) {
	live := mustParse(t, `<p>old</p>`)
	next := mustParse(t, `<p>new</p>`)

	ch := Morph(live, next, MorphOptions{})

	if got := live.Render(); got != `<p>new</p>` {
		t.Errorf("Render = %q", got)
	}
	if len(ch.Added) != 0 || len(ch.Removed) != 0 {
		t.Errorf("text change reported as add/remove: %+v", ch)
	}
	if len(ch.Updated) != 1 {
		t.Errorf("Updated = %d nodes, want 1", len(ch.Updated))
	}
}

func TestMorphPreservesNodeIdentityByID(t *testing.T) {
	live := mustParse(t, `<div id="a">1</div><div id="b">2</div>`)
	next := mustParse(t, `<div id="b">2</div><div id="a">1</div>`)

	aBefore := live.FindByID("a")
	Morph(live, next, MorphOptions{})

	if aAfter := live.FindByID("a"); aAfter != aBefore {
		t.Error("element with id replaced instead of moved")
	}
	if got := live.Render(); got != `<div id="b">2</div><div id="a">1</div>` {
		t.Errorf("Render = %q", got)
	}
}

func TestMorphAddAndRemove(t *testing.T) {
	live := mustParse(t, `<ul id="list"><li id="i1">a</li></ul>`)
	next := mustParse(t, `<ul id="list"><li id="i1">a</li><li id="i2">b</li></ul>`)

	ch := Morph(live, next, MorphOptions{})
	if len(ch.Added) != 1 || ch.Added[0].ID() != "i2" {
		t.Errorf("Added = %+v", ch.Added)
	}

	shrunk := mustParse(t, `<ul id="list"></ul>`)
	ch = Morph(live, shrunk, MorphOptions{})
	if len(ch.Removed) != 2 {
		t.Errorf("Removed = %d nodes, want 2", len(ch.Removed))
	}
	if got := live.Render(); got != `<ul id="list"></ul>` {
		t.Errorf("Render = %q", got)
	}
}

func TestMorphTagMismatchReplaces(t *testing.T) {
	live := mustParse(t, `<span>x</span>`)
	next := mustParse(t, `<div>x</div>`)

	ch := Morph(live, next, MorphOptions{})
	if got := live.Render(); got != `<div>x</div>` {
		t.Errorf("Render = %q", got)
	}
	if len(ch.Added) != 1 || len(ch.Removed) != 1 {
		t.Errorf("replace reported as %+v", ch)
	}
}

func TestMorphAttributeSync(t *testing.T) {
	live := mustParse(t, `<div id="x" class="old" hidden="">t</div>`)
	next := mustParse(t, `<div id="x" class="new">t</div>`)

	ch := Morph(live, next, MorphOptions{})
	el := live.FindByID("x")
	if el.Attrs["class"] != "new" {
		t.Errorf("class = %q", el.Attrs["class"])
	}
	if _, ok := el.Attr("hidden"); ok {
		t.Error("stale attribute survived morph")
	}
	if len(ch.Updated) != 1 {
		t.Errorf("Updated = %d, want 1", len(ch.Updated))
	}
}

func TestMorphPreservesFocusedInput(t *testing.T) {
	live := mustParse(t, `<form id="f"><input id="name" value="typed-by-user"></form>`)
	next := mustParse(t, `<form id="f"><input id="name" value="server-value"></form>`)

	Morph(live, next, MorphOptions{FocusedID: "name"})

	input := live.FindByID("name")
	if got := input.Attrs["value"]; got != "typed-by-user" {
		t.Errorf("focused input value = %q, want user's in-progress value", got)
	}

	// Without focus the server value wins.
	next2 := mustParse(t, `<form id="f"><input id="name" value="server-value"></form>`)
	Morph(live, next2, MorphOptions{})
	if got := live.FindByID("name").Attrs["value"]; got != "server-value" {
		t.Errorf("unfocused input value = %q", got)
	}
}

func TestMorphIdempotent(t *testing.T) {
	live := mustParse(t, `<div id="app"><p>a</p><p>b</p></div>`)
	next1 := mustParse(t, `<div id="app"><p>a</p><p>c</p></div>`)
	Morph(live, next1, MorphOptions{})
	first := live.Render()

	next2 := mustParse(t, `<div id="app"><p>a</p><p>c</p></div>`)
	ch := Morph(live, next2, MorphOptions{})
	if got := live.Render(); got != first {
		t.Errorf("second identical morph changed output: %q vs %q", got, first)
	}
	if len(ch.Added)+len(ch.Removed)+len(ch.Updated) != 0 {
		t.Errorf("identical morph reported changes: %+v", ch)
	}
}

func TestTextContent(t *testing.T) {
	n := mustParse(t, `<div>a<span>b</span>c</div>`)
	if got := n.TextContent(); got != "abc" {
		t.Errorf("TextContent = %q", got)
	}
	el := n.Children[0]
	el.SetTextContent("replaced")
	if !strings.Contains(n.Render(), ">replaced<") {
		t.Errorf("SetTextContent: %q", n.Render())
	}
}
