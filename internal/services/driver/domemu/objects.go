package domemu

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// reflectedAttrs are element properties that read and write an attribute
var reflectedAttrs = map[string]string{
	"name":        "name",
	"type":        "type",
	"placeholder": "placeholder",
	"href":        "href",
	"src":         "src",
	"title":       "title",
	"className":   "class",
	"htmlFor":     "for",
}

var booleanAttrs = []string{"checked", "disabled", "readOnly", "required", "hidden", "selected"}

func (d *document) accessor(obj *goja.Object, name string, get func() interface{}, set func(goja.Value)) {
	vm := d.vm
	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(get())
	})
	var setter goja.Value
	if set != nil {
		setter = vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (d *document) newElementObject(n *html.Node) *goja.Object {
	vm := d.vm
	obj := vm.NewObject()
	tag := strings.ToUpper(n.Data)

	_ = obj.Set("tagName", tag)
	_ = obj.Set("nodeName", tag)
	_ = obj.Set("nodeType", 1)
	_ = obj.Set("style", vm.NewObject())
	_ = obj.Set("dataset", vm.NewObject())

	d.accessor(obj, "id", func() interface{} { return attr(n, "id") }, func(v goja.Value) {
		setAttr(n, "id", v.String())
	})
	for prop, name := range reflectedAttrs {
		name := name
		d.accessor(obj, prop, func() interface{} { return attr(n, name) }, func(v goja.Value) {
			setAttr(n, name, v.String())
		})
	}
	for _, prop := range booleanAttrs {
		name := strings.ToLower(prop)
		d.accessor(obj, prop, func() interface{} { return hasAttr(n, name) }, func(v goja.Value) {
			if v.ToBoolean() {
				setAttr(n, name, "")
			} else {
				removeAttr(n, name)
			}
		})
	}

	d.accessor(obj, "value", func() interface{} { return d.value(n) }, func(v goja.Value) {
		d.setValue(n, v.String())
	})
	textGet := func() interface{} { return textContent(n) }
	textSet := func(v goja.Value) { setTextContent(n, stringOrEmpty(v)) }
	d.accessor(obj, "textContent", textGet, textSet)
	d.accessor(obj, "innerText", textGet, textSet)
	d.accessor(obj, "innerHTML", func() interface{} { return d.innerHTML(n) }, func(v goja.Value) {
		d.setInnerHTML(n, stringOrEmpty(v))
	})
	d.accessor(obj, "parentNode", func() interface{} { return d.parentValue(n) }, nil)
	d.accessor(obj, "parentElement", func() interface{} {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return d.wrap(n.Parent)
	}, nil)
	d.accessor(obj, "children", func() interface{} { return d.wrapAll(childElements(n)) }, nil)
	d.accessor(obj, "firstElementChild", func() interface{} {
		children := childElements(n)
		if len(children) == 0 {
			return goja.Null()
		}
		return d.wrap(children[0])
	}, nil)
	if n.DataAtom == atom.Select {
		d.accessor(obj, "options", func() interface{} {
			return d.wrapAll(d.scopedFind(n, "option").Nodes)
		}, nil)
	}

	_ = obj.Set("classList", d.newClassList(n))

	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		name := strings.ToLower(call.Argument(0).String())
		if !hasAttr(n, name) {
			return goja.Null()
		}
		return vm.ToValue(attr(n, name))
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		name := strings.ToLower(call.Argument(0).String())
		setAttr(n, name, call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(hasAttr(n, strings.ToLower(call.Argument(0).String())))
	})
	_ = obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(n, strings.ToLower(call.Argument(0).String()))
		return goja.Undefined()
	})
	d.bindQueries(obj, n)

	_ = obj.Set("matches", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(goquery.NewDocumentFromNode(n).Is(call.Argument(0).String()))
	})
	_ = obj.Set("closest", func(call goja.FunctionCall) goja.Value {
		selector := call.Argument(0).String()
		for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
			if goquery.NewDocumentFromNode(c).Is(selector) {
				return d.wrap(c)
			}
		}
		return goja.Null()
	})
	_ = obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := d.nodeOf(call.Argument(0))
		if child == nil {
			panic(vm.NewTypeError("appendChild requires an element"))
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
		return call.Argument(0)
	})
	_ = obj.Set("removeChild", func(call goja.FunctionCall) goja.Value {
		child := d.nodeOf(call.Argument(0))
		if child == nil || child.Parent != n {
			panic(vm.NewTypeError("removeChild requires a child element"))
		}
		n.RemoveChild(child)
		return call.Argument(0)
	})
	_ = obj.Set("remove", func(goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return goja.Undefined()
	})
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = obj.Set("focus", noop)
	_ = obj.Set("blur", noop)
	_ = obj.Set("select", noop)
	_ = obj.Set("click", func(goja.FunctionCall) goja.Value {
		d.page.fire(obj, "click", true)
		return goja.Undefined()
	})

	d.page.events.bind(obj)
	return obj
}

func (d *document) newDocumentObject() *goja.Object {
	vm := d.vm
	obj := vm.NewObject()

	_ = obj.Set("nodeType", 9)
	_ = obj.Set("nodeName", "#document")
	_ = obj.Set("cookie", "")

	d.accessor(obj, "readyState", func() interface{} { return d.readyState }, nil)
	d.accessor(obj, "documentElement", func() interface{} { return d.first("html") }, nil)
	d.accessor(obj, "head", func() interface{} { return d.first("head") }, nil)
	d.accessor(obj, "body", func() interface{} { return d.first("body") }, nil)
	d.accessor(obj, "title", func() interface{} {
		return strings.TrimSpace(d.doc.Find("title").First().Text())
	}, nil)
	d.accessor(obj, "location", func() interface{} { return d.page.location }, nil)

	d.bindQueries(obj, d.root())

	_ = obj.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return d.wrap(d.getElementByID(call.Argument(0).String()))
	})
	_ = obj.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return d.wrap(&html.Node{
			Type:     html.ElementNode,
			Data:     tag,
			DataAtom: atom.Lookup([]byte(tag)),
		})
	})
	// Editing commands are not emulated
	_ = obj.Set("execCommand", func(goja.FunctionCall) goja.Value { return vm.ToValue(false) })
	_ = obj.Set("hasFocus", func(goja.FunctionCall) goja.Value { return vm.ToValue(false) })

	d.page.events.bind(obj)
	return obj
}

// bindQueries installs the selector methods shared by document and elements
func (d *document) bindQueries(obj *goja.Object, scope *html.Node) {
	vm := d.vm
	_ = obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return d.wrap(d.querySelector(scope, call.Argument(0).String()))
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return d.wrapAll(d.scopedFind(scope, call.Argument(0).String()).Nodes)
	})
	_ = obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return d.wrapAll(d.scopedFind(scope, call.Argument(0).String()).Nodes)
	})
	_ = obj.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		var nodes []*html.Node
		class := call.Argument(0).String()
		walkElements(scope, func(c *html.Node) bool {
			if hasClass(c, class) {
				nodes = append(nodes, c)
			}
			return true
		})
		return vm.ToValue(d.wrapAll(nodes))
	})
}

func (d *document) newClassList(n *html.Node) *goja.Object {
	vm := d.vm
	list := vm.NewObject()
	_ = list.Set("contains", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(hasClass(n, call.Argument(0).String()))
	})
	_ = list.Set("add", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			setClass(n, a.String(), true)
		}
		return goja.Undefined()
	})
	_ = list.Set("remove", func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			setClass(n, a.String(), false)
		}
		return goja.Undefined()
	})
	_ = list.Set("toggle", func(call goja.FunctionCall) goja.Value {
		class := call.Argument(0).String()
		on := !hasClass(n, class)
		if force := call.Argument(1); !goja.IsUndefined(force) {
			on = force.ToBoolean()
		}
		setClass(n, class, on)
		return vm.ToValue(on)
	})
	return list
}

func (d *document) first(tag string) goja.Value {
	sel := d.doc.Find(tag)
	if sel.Length() == 0 {
		return goja.Null()
	}
	return d.wrap(sel.Nodes[0])
}

func (d *document) parentValue(n *html.Node) goja.Value {
	if n.Parent == nil {
		return goja.Null()
	}
	return d.wrap(n.Parent)
}

func stringOrEmpty(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
