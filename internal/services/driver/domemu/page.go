package domemu

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/ternarybob/arbor"
	"golang.org/x/net/html"
)

//go:embed prelude.js
var preludeSource string

var preludeProgram = goja.MustCompile("prelude.js", preludeSource, false)

// page is one loaded document with its runtime. Built and used on the loop.
type page struct {
	vm        *goja.Runtime
	loop      *eventLoop
	logger    arbor.ILogger
	client    *http.Client
	userAgent string
	baseURL   *url.URL

	// ctx is cancelled when the page closes and aborts in-flight fetches
	ctx context.Context

	events   *eventTargets
	doc      *document
	window   *goja.Object
	location *goja.Object
}

func newPage(ctx context.Context, loop *eventLoop, markup string, base *url.URL, client *http.Client, userAgent string, logger arbor.ILogger) (*page, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page markup: %w", err)
	}

	p := &page{
		vm:        loop.vm,
		loop:      loop,
		logger:    logger,
		client:    client,
		userAgent: userAgent,
		baseURL:   base,
		ctx:       ctx,
		window:    loop.vm.GlobalObject(),
	}
	p.events = newEventTargets(p)
	p.location = p.newLocation()
	p.doc = newDocument(p, parsed)

	if err := p.installGlobals(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *page) installGlobals() error {
	vm := p.vm
	w := p.window

	for name, value := range map[string]interface{}{
		"window":    w,
		"self":      w,
		"document":  p.doc.object,
		"location":  p.location,
		"navigator": p.newNavigator(),
		"console":   p.newConsole(),
	} {
		if err := w.Set(name, value); err != nil {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
	}

	_ = w.Set("setTimeout", p.timerFunc(false))
	_ = w.Set("setInterval", p.timerFunc(true))
	cancelTimer := func(call goja.FunctionCall) goja.Value {
		p.loop.clearTimer(call.Argument(0).ToInteger())
		return goja.Undefined()
	}
	_ = w.Set("clearTimeout", cancelTimer)
	_ = w.Set("clearInterval", cancelTimer)
	_ = w.Set("fetch", p.fetch)

	// Dialogs are headless no-ops
	_ = w.Set("alert", func(call goja.FunctionCall) goja.Value {
		p.logger.Debug().Str("message", call.Argument(0).String()).Msg("Page alert")
		return goja.Undefined()
	})
	_ = w.Set("confirm", func(goja.FunctionCall) goja.Value { return vm.ToValue(false) })
	_ = w.Set("prompt", func(goja.FunctionCall) goja.Value { return goja.Null() })
	_ = w.Set("getComputedStyle", func(call goja.FunctionCall) goja.Value {
		if obj, ok := call.Argument(0).(*goja.Object); ok {
			if style := obj.Get("style"); style != nil {
				return style
			}
		}
		return vm.NewObject()
	})
	p.events.bind(w)

	if _, err := vm.RunProgram(preludeProgram); err != nil {
		return fmt.Errorf("failed to run prelude: %w", err)
	}
	return nil
}

func (p *page) timerFunc(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			// String callbacks are not evaluated
			return p.vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}
		return p.vm.ToValue(p.loop.setTimer(fn, delay, repeat, args))
	}
}

func (p *page) newLocation() *goja.Object {
	obj := p.vm.NewObject()
	u := p.baseURL
	port := u.Port()
	_ = obj.Set("href", u.String())
	_ = obj.Set("origin", u.Scheme+"://"+u.Host)
	_ = obj.Set("protocol", u.Scheme+":")
	_ = obj.Set("host", u.Host)
	_ = obj.Set("hostname", u.Hostname())
	_ = obj.Set("port", port)
	_ = obj.Set("pathname", u.EscapedPath())
	_ = obj.Set("search", prefixed("?", u.RawQuery))
	_ = obj.Set("hash", prefixed("#", u.Fragment))
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value { return p.vm.ToValue(u.String()) })
	_ = obj.Set("reload", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return obj
}

func (p *page) newNavigator() *goja.Object {
	obj := p.vm.NewObject()
	_ = obj.Set("userAgent", p.userAgent)
	_ = obj.Set("language", "ru-RU")
	_ = obj.Set("languages", []string{"ru-RU", "ru", "en"})
	_ = obj.Set("onLine", true)
	return obj
}

func (p *page) newConsole() *goja.Object {
	obj := p.vm.NewObject()
	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			msg := formatConsoleArgs(call.Arguments)
			switch level {
			case "error", "warn":
				p.logger.Warn().Str("source", "page").Str("level", level).Msg(msg)
			default:
				p.logger.Debug().Str("source", "page").Str("level", level).Msg(msg)
			}
			return goja.Undefined()
		}
	}
	for _, level := range []string{"log", "info", "debug", "warn", "error", "trace"} {
		_ = obj.Set(level, logAt(level))
	}
	return obj
}

func formatConsoleArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if obj, ok := a.(*goja.Object); ok && obj.ClassName() != "Function" && obj.ClassName() != "Error" {
			if encoded, err := json.Marshal(a.Export()); err == nil {
				parts = append(parts, string(encoded))
				continue
			}
		}
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}

// propagationParents lists the objects an event bubbles through after target
func (p *page) propagationParents(target *goja.Object) []*goja.Object {
	if target == p.window {
		return nil
	}
	if target == p.doc.object {
		return []*goja.Object{p.window}
	}

	var out []*goja.Object
	n := p.doc.nodes[target]
	for n != nil {
		parent := n.Parent
		for parent != nil && parent.Type != html.ElementNode && parent.Type != html.DocumentNode {
			parent = parent.Parent
		}
		if parent == nil {
			// Detached subtree
			return out
		}
		obj := p.doc.wrap(parent).(*goja.Object)
		out = append(out, obj)
		if obj == p.doc.object {
			break
		}
		n = parent
	}
	return append(out, p.window)
}

func (p *page) newEvent(typ string, bubbles bool) (*goja.Object, error) {
	init := p.vm.NewObject()
	_ = init.Set("bubbles", bubbles)
	_ = init.Set("cancelable", true)
	evt, err := p.vm.New(p.window.Get("Event"), p.vm.ToValue(typ), init)
	if err != nil {
		return nil, err
	}
	_ = evt.Set("isTrusted", true)
	return evt, nil
}

// fire creates and dispatches a trusted event
func (p *page) fire(target *goja.Object, typ string, bubbles bool) {
	evt, err := p.newEvent(typ, bubbles)
	if err != nil {
		p.logger.Warn().Err(err).Str("event", typ).Msg("Failed to create event")
		return
	}
	p.events.dispatch(target, evt)
}

// boot runs the page scripts in document order and fires the load sequence
func (p *page) boot(ctx context.Context) error {
	var deferred []pageScript

	for i, n := range p.doc.doc.Find("script").Nodes {
		script, ok := p.prepareScript(ctx, i, n)
		if !ok {
			continue
		}
		if script.deferred {
			deferred = append(deferred, script)
			continue
		}
		p.runScript(script)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	for _, script := range deferred {
		p.runScript(script)
	}

	p.doc.readyState = "interactive"
	p.fire(p.doc.object, "readystatechange", false)
	p.fire(p.doc.object, "DOMContentLoaded", true)

	p.doc.readyState = "complete"
	p.fire(p.doc.object, "readystatechange", false)
	p.fire(p.window, "load", false)

	return ctx.Err()
}

type pageScript struct {
	name     string
	source   string
	deferred bool
}

func (p *page) prepareScript(ctx context.Context, index int, n *html.Node) (pageScript, bool) {
	typ := strings.ToLower(strings.TrimSpace(attr(n, "type")))
	switch typ {
	case "", "text/javascript", "application/javascript", "module":
	default:
		p.logger.Debug().Str("type", typ).Msg("Skipping non-script block")
		return pageScript{}, false
	}

	script := pageScript{
		name:     fmt.Sprintf("%s#script-%d", p.baseURL.String(), index),
		source:   textContent(n),
		deferred: typ == "module",
	}

	src := strings.TrimSpace(attr(n, "src"))
	if src == "" {
		return script, true
	}

	target, err := p.resolve(src)
	if err != nil {
		p.logger.Warn().Err(err).Str("src", src).Msg("Invalid script src")
		return pageScript{}, false
	}
	res, err := p.get(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		p.logger.Warn().Err(err).Str("src", target).Msg("Failed to load script")
		return pageScript{}, false
	}
	if res.status < 200 || res.status > 299 {
		p.logger.Warn().Int("status", res.status).Str("src", target).Msg("Failed to load script")
		return pageScript{}, false
	}

	script.name = target
	script.source = string(res.body)
	script.deferred = script.deferred || hasAttr(n, "defer") || hasAttr(n, "async")
	return script, true
}

func (p *page) runScript(script pageScript) {
	if strings.TrimSpace(script.source) == "" {
		return
	}
	if _, err := p.vm.RunScript(script.name, script.source); err != nil {
		p.logger.Warn().Err(err).Str("script", script.name).Msg("Uncaught exception in page script")
	}
}

func (p *page) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return p.baseURL.ResolveReference(u).String(), nil
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}
