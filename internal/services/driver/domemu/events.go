package domemu

import (
	"fmt"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

type listener struct {
	fn   goja.Value
	call goja.Callable
	once bool
}

type inlineKey struct {
	node *html.Node
	typ  string
	code string
}

// eventTargets tracks listeners per JS object. Loop goroutine only.
type eventTargets struct {
	page      *page
	listeners map[*goja.Object]map[string][]*listener
	inline    map[inlineKey]goja.Callable
}

func newEventTargets(p *page) *eventTargets {
	return &eventTargets{
		page:      p,
		listeners: make(map[*goja.Object]map[string][]*listener),
		inline:    make(map[inlineKey]goja.Callable),
	}
}

// bind installs addEventListener, removeEventListener and dispatchEvent on obj
func (e *eventTargets) bind(obj *goja.Object) {
	vm := e.page.vm

	_ = obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		e.add(obj, call.Argument(0).String(), call.Argument(1), call.Argument(2))
		return goja.Undefined()
	})
	_ = obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		e.remove(obj, call.Argument(0).String(), call.Argument(1))
		return goja.Undefined()
	})
	_ = obj.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		evt, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(vm.NewTypeError("dispatchEvent requires an Event"))
		}
		return vm.ToValue(e.dispatch(obj, evt))
	})
}

func (e *eventTargets) add(target *goja.Object, typ string, fn goja.Value, options goja.Value) {
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return
	}

	call, ok := goja.AssertFunction(fn)
	if !ok {
		// EventListener objects with a handleEvent method
		obj, isObj := fn.(*goja.Object)
		if !isObj {
			return
		}
		handle, hasHandle := goja.AssertFunction(obj.Get("handleEvent"))
		if !hasHandle {
			return
		}
		call = func(_ goja.Value, args ...goja.Value) (goja.Value, error) {
			return handle(obj, args...)
		}
	}

	once := false
	if opts, isObj := options.(*goja.Object); isObj {
		once = truthy(opts.Get("once"))
	}

	byType := e.listeners[target]
	if byType == nil {
		byType = make(map[string][]*listener)
		e.listeners[target] = byType
	}
	for _, l := range byType[typ] {
		if l.fn.SameAs(fn) {
			return
		}
	}
	byType[typ] = append(byType[typ], &listener{fn: fn, call: call, once: once})
}

func (e *eventTargets) remove(target *goja.Object, typ string, fn goja.Value) {
	list := e.listeners[target][typ]
	for i, l := range list {
		if l.fn.SameAs(fn) {
			e.listeners[target][typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// dispatch delivers evt to target and, when it bubbles, to every ancestor up
// to the document and window. Returns false if a listener cancelled it.
func (e *eventTargets) dispatch(target *goja.Object, evt *goja.Object) bool {
	typ := ""
	if v := evt.Get("type"); v != nil {
		typ = v.String()
	}

	path := []*goja.Object{target}
	if truthy(evt.Get("bubbles")) {
		path = append(path, e.page.propagationParents(target)...)
	}

	_ = evt.Set("target", target)
	for _, current := range path {
		_ = evt.Set("currentTarget", current)
		e.invoke(current, typ, evt)
		if truthy(evt.Get("__stop")) {
			break
		}
	}
	_ = evt.Set("currentTarget", goja.Null())

	return !truthy(evt.Get("defaultPrevented"))
}

func (e *eventTargets) invoke(current *goja.Object, typ string, evt *goja.Object) {
	logger := e.page.logger

	list := append([]*listener(nil), e.listeners[current][typ]...)
	for _, l := range list {
		if l.once {
			e.remove(current, typ, l.fn)
		}
		if _, err := l.call(current, evt); err != nil {
			logger.Warn().Err(err).Str("event", typ).Msg("Uncaught exception in event listener")
		}
		if truthy(evt.Get("__stopImmediate")) {
			return
		}
	}

	handler := e.handlerProperty(current, typ)
	if handler == nil {
		return
	}
	if _, err := handler(current, evt); err != nil {
		logger.Warn().Err(err).Str("event", typ).Msg("Uncaught exception in event handler")
	}
}

// handlerProperty resolves an on<type> handler set as a property or, for
// elements, as an inline attribute.
func (e *eventTargets) handlerProperty(current *goja.Object, typ string) goja.Callable {
	if fn, ok := goja.AssertFunction(current.Get("on" + typ)); ok {
		return fn
	}

	n := e.page.doc.nodeOf(current)
	if n == nil {
		return nil
	}
	code := attr(n, "on"+typ)
	if code == "" {
		return nil
	}

	key := inlineKey{node: n, typ: typ, code: code}
	if fn, ok := e.inline[key]; ok {
		return fn
	}

	compiled, err := e.page.vm.RunString(fmt.Sprintf("(function (event) {\n%s\n})", code))
	if err != nil {
		e.page.logger.Warn().Err(err).Str("event", typ).Msg("Failed to compile inline event handler")
		return nil
	}
	fn, ok := goja.AssertFunction(compiled)
	if !ok {
		return nil
	}
	e.inline[key] = fn
	return fn
}

func truthy(v goja.Value) bool {
	return v != nil && v.ToBoolean()
}
