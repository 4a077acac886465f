package client

import (
	"testing"
	"time"

	"github.com/hyperstar-dev/hyperstar/pkg/client/dom"
)

func newTestAttrs(t *testing.T, funcs map[string]func(args []any) any) (*Attrs, *Signals) {
	t.Helper()
	signals := NewSignals()
	return NewAttrs(AttrsConfig{Signals: signals, Funcs: funcs}), signals
}

func parseFragment(t *testing.T, html string) *dom.Node {
	t.Helper()
	n, err := dom.Parse(html)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return n
}

func TestDataText(t *testing.T) {
	a, signals := newTestAttrs(t, nil)
	signals.Set("greeting", "hello")

	root := parseFragment(t, `<p id="msg" data-text="$greeting"></p>`)
	a.Process(root)

	el := root.FindByID("msg")
	if got := el.TextContent(); got != "hello" {
		t.Fatalf("TextContent = %q", got)
	}

	signals.Set("greeting", "bye")
	if got := el.TextContent(); got != "bye" {
		t.Errorf("TextContent after update = %q", got)
	}
}

func TestDataShow(t *testing.T) {
	a, signals := newTestAttrs(t, nil)
	signals.Set("open", false)

	root := parseFragment(t, `<div id="panel" data-show="$open"></div>`)
	a.Process(root)

	el := root.FindByID("panel")
	if _, hidden := el.Attr("hidden"); !hidden {
		t.Error("falsy data-show should hide the element")
	}

	signals.Set("open", true)
	if _, hidden := el.Attr("hidden"); hidden {
		t.Error("truthy data-show should reveal the element")
	}
}

func TestDataClass(t *testing.T) {
	a, signals := newTestAttrs(t, nil)
	signals.Set("count", 0)

	root := parseFragment(t, `<span id="s" class="base" data-class="zero: $count == 0; many: $count > 3"></span>`)
	a.Process(root)

	el := root.FindByID("s")
	if got, _ := el.Attr("class"); got != "base zero" {
		t.Fatalf("class = %q", got)
	}

	signals.Set("count", 5)
	if got, _ := el.Attr("class"); got != "base many" {
		t.Errorf("class = %q", got)
	}
}

func TestDataAttr(t *testing.T) {
	a, signals := newTestAttrs(t, nil)
	signals.Set("busy", true)

	root := parseFragment(t, `<button id="b" data-attr="disabled: $busy"></button>`)
	a.Process(root)

	el := root.FindByID("b")
	if _, ok := el.Attr("disabled"); !ok {
		t.Error("truthy data-attr should set the attribute")
	}

	signals.Set("busy", false)
	if _, ok := el.Attr("disabled"); ok {
		t.Error("false data-attr should remove the attribute")
	}
}

func TestDataBind(t *testing.T) {
	a, signals := newTestAttrs(t, nil)
	signals.Set("name", "server")

	root := parseFragment(t, `<input id="i" data-bind="name">`)
	a.Process(root)

	el := root.FindByID("i")
	if got, _ := el.Attr("value"); got != "server" {
		t.Fatalf("value = %q, want signal value", got)
	}

	a.DispatchEvent(el, &Event{Name: "input", Value: "typed"})
	if got := signals.Get("name"); got != "typed" {
		t.Errorf("signal = %v after input event", got)
	}
}

func TestDataOnCallsFunc(t *testing.T) {
	var gotArgs []any
	a, _ := newTestAttrs(t, map[string]func(args []any) any{
		"action": func(args []any) any {
			gotArgs = args
			return nil
		},
	})

	root := parseFragment(t, `<button id="b" data-on-click="action('increment', 2)"></button>`)
	a.Process(root)

	a.DispatchEvent(root.FindByID("b"), &Event{Name: "click"})
	if len(gotArgs) != 2 || gotArgs[0] != "increment" || gotArgs[1] != float64(2) {
		t.Errorf("action args = %v", gotArgs)
	}
}

func TestPreventModifier(t *testing.T) {
	a, _ := newTestAttrs(t, map[string]func(args []any) any{
		"noop": func([]any) any { return nil },
	})
	root := parseFragment(t, `<form id="f" data-on-submit.prevent="noop()"></form>`)
	a.Process(root)

	ev := &Event{Name: "submit"}
	a.DispatchEvent(root.FindByID("f"), ev)
	if !ev.Prevented() {
		t.Error(".prevent did not call PreventDefault")
	}
}

func TestOnceModifier(t *testing.T) {
	calls := 0
	a, _ := newTestAttrs(t, map[string]func(args []any) any{
		"hit": func([]any) any { calls++; return nil },
	})
	root := parseFragment(t, `<button id="b" data-on-click.once="hit()"></button>`)
	a.Process(root)

	el := root.FindByID("b")
	a.DispatchEvent(el, &Event{Name: "click"})
	a.DispatchEvent(el, &Event{Name: "click"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestThrottleModifier(t *testing.T) {
	calls := 0
	a, _ := newTestAttrs(t, map[string]func(args []any) any{
		"hit": func([]any) any { calls++; return nil },
	})
	root := parseFragment(t, `<div id="d" data-on-scroll.throttle-1s="hit()"></div>`)
	a.Process(root)

	el := root.FindByID("d")
	a.DispatchEvent(el, &Event{Name: "scroll"})
	a.DispatchEvent(el, &Event{Name: "scroll"})
	if calls != 1 {
		t.Errorf("calls = %d, want second dispatch throttled", calls)
	}
}

func TestDebounceModifier(t *testing.T) {
	fired := make(chan struct{}, 2)
	a, _ := newTestAttrs(t, map[string]func(args []any) any{
		"hit": func([]any) any {
			fired <- struct{}{}
			return nil
		},
	})
	root := parseFragment(t, `<input id="i" data-on-input.debounce-10ms="hit()">`)
	a.Process(root)

	el := root.FindByID("i")
	a.DispatchEvent(el, &Event{Name: "input"})
	a.DispatchEvent(el, &Event{Name: "input"})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("debounced handler never fired")
	}
	select {
	case <-fired:
		t.Error("debounce fired twice for a burst")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	inits := 0
	a, _ := newTestAttrs(t, map[string]func(args []any) any{
		"setup": func([]any) any { inits++; return nil },
	})
	root := parseFragment(t, `<div id="d" data-init="setup()"></div>`)

	a.Process(root)
	a.Process(root)

	if inits != 1 {
		t.Errorf("data-init ran %d times, want 1", inits)
	}
}

func TestCleanupDisposesEffects(t *testing.T) {
	a, signals := newTestAttrs(t, nil)
	signals.Set("msg", "a")

	root := parseFragment(t, `<p id="p" data-text="$msg"></p>`)
	a.Process(root)

	el := root.FindByID("p")
	a.Cleanup(el)

	signals.Set("msg", "b")
	if got := el.TextContent(); got != "a" {
		t.Errorf("removed element still reacting: %q", got)
	}

	a.DispatchEvent(el, &Event{Name: "input"})
}

func TestChangedDirectiveReprocessed(t *testing.T) {
	a, _ := newTestAttrs(t, nil)

	root := parseFragment(t, `<p id="t" data-text="'one'"></p>`)
	a.Process(root)
	el := root.FindByID("t")
	if got := el.TextContent(); got != "one" {
		t.Fatalf("TextContent = %q", got)
	}

	next := parseFragment(t, `<p id="t" data-text="'two'"></p>`)
	a.Apply(dom.Morph(root, next, dom.MorphOptions{}))

	if got := el.TextContent(); got != "two" {
		t.Errorf("changed data-text not re-evaluated: TextContent = %q", got)
	}
}

func TestUpdatedElementDropsStaleEffects(t *testing.T) {
	a, signals := newTestAttrs(t, nil)
	signals.Set("a", "A")
	signals.Set("b", "B")

	root := parseFragment(t, `<p id="t" data-text="$a"></p>`)
	a.Process(root)
	el := root.FindByID("t")

	next := parseFragment(t, `<p id="t" data-text="$b"></p>`)
	a.Apply(dom.Morph(root, next, dom.MorphOptions{}))
	if got := el.TextContent(); got != "B" {
		t.Fatalf("TextContent = %q", got)
	}

	signals.Set("a", "A2")
	if got := el.TextContent(); got != "B" {
		t.Errorf("stale effect still live: TextContent = %q", got)
	}
}

func TestDataRef(t *testing.T) {
	a, _ := newTestAttrs(t, nil)
	root := parseFragment(t, `<canvas id="c" data-ref="board"></canvas>`)
	a.Process(root)

	if got := a.Ref("board"); got == nil || got.ID() != "c" {
		t.Errorf("Ref(board) = %v", got)
	}

	a.Cleanup(root)
	if a.Ref("board") != nil {
		t.Error("ref survived cleanup")
	}
}
