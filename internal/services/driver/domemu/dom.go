package domemu

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// document is the emulated DOM: a parsed goquery tree plus the JS objects
// wrapping its nodes. Loop goroutine only.
type document struct {
	vm   *goja.Runtime
	doc  *goquery.Document
	page *page

	objects map[*html.Node]*goja.Object
	nodes   map[*goja.Object]*html.Node
	values  map[*html.Node]string

	object     *goja.Object
	readyState string
}

func newDocument(p *page, doc *goquery.Document) *document {
	d := &document{
		vm:         p.vm,
		doc:        doc,
		page:       p,
		objects:    make(map[*html.Node]*goja.Object),
		nodes:      make(map[*goja.Object]*html.Node),
		values:     make(map[*html.Node]string),
		readyState: "loading",
	}
	d.object = d.newDocumentObject()
	return d
}

func (d *document) root() *html.Node {
	return d.doc.Selection.Nodes[0]
}

// querySelector returns the first element matching selector or nil
func (d *document) querySelector(scope *html.Node, selector string) *html.Node {
	sel := d.scopedFind(scope, selector)
	if sel.Length() == 0 {
		return nil
	}
	return sel.Nodes[0]
}

func (d *document) scopedFind(scope *html.Node, selector string) *goquery.Selection {
	if scope == nil || scope == d.root() {
		return d.doc.Find(selector)
	}
	return goquery.NewDocumentFromNode(scope).Find(selector)
}

func (d *document) getElementByID(id string) *html.Node {
	var found *html.Node
	walkElements(d.root(), func(n *html.Node) bool {
		if attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// wrap returns the JS object for an element node, creating it on first use
// so the same node always maps to the same object.
func (d *document) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if n.Type == html.DocumentNode {
		return d.object
	}
	if obj, ok := d.objects[n]; ok {
		return obj
	}
	obj := d.newElementObject(n)
	d.objects[n] = obj
	d.nodes[obj] = n
	return obj
}

func (d *document) wrapAll(nodes []*html.Node) goja.Value {
	items := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, d.wrap(n))
	}
	return d.vm.NewArray(items...)
}

// nodeOf maps a JS value back to its element node
func (d *document) nodeOf(v goja.Value) *html.Node {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return d.nodes[obj]
}

// value returns the current value of a form control
func (d *document) value(n *html.Node) string {
	if v, ok := d.values[n]; ok {
		return v
	}
	switch n.DataAtom {
	case atom.Textarea:
		return textContent(n)
	case atom.Select:
		if opt := selectedOption(n); opt != nil {
			return optionValue(opt)
		}
		return ""
	case atom.Option:
		return optionValue(n)
	default:
		return attr(n, "value")
	}
}

func (d *document) setValue(n *html.Node, v string) {
	if n.DataAtom == atom.Select {
		walkElements(n, func(c *html.Node) bool {
			if c.DataAtom == atom.Option {
				removeAttr(c, "selected")
				if optionValue(c) == v {
					setAttr(c, "selected", "")
				}
			}
			return true
		})
		return
	}
	d.values[n] = v
}

func (d *document) setInnerHTML(n *html.Node, markup string) {
	children, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		d.page.logger.Warn().Err(err).Msg("Failed to parse innerHTML")
		return
	}
	removeChildren(n)
	for _, c := range children {
		n.AppendChild(c)
	}
}

func (d *document) innerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// parentTarget returns the next object on the propagation path of n
func (d *document) parentTarget(n *html.Node) *goja.Object {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return d.object
		}
		if p.Type == html.ElementNode {
			return d.wrap(p).(*goja.Object)
		}
	}
	return d.object
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	return sb.String()
}

func setTextContent(n *html.Node, text string) {
	removeChildren(n)
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func childElements(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// walkElements visits element descendants of n in document order until fn
// returns false.
func walkElements(n *html.Node, fn func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if !fn(c) {
			return false
		}
		if !walkElements(c, fn) {
			return false
		}
	}
	return true
}

func selectedOption(sel *html.Node) *html.Node {
	var first, selected *html.Node
	walkElements(sel, func(n *html.Node) bool {
		if n.DataAtom != atom.Option {
			return true
		}
		if first == nil {
			first = n
		}
		if hasAttr(n, "selected") {
			selected = n
			return false
		}
		return true
	})
	if selected != nil {
		return selected
	}
	return first
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return attr(opt, "value")
	}
	return strings.TrimSpace(textContent(opt))
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func setClass(n *html.Node, class string, on bool) {
	fields := strings.Fields(attr(n, "class"))
	out := fields[:0]
	for _, c := range fields {
		if c != class {
			out = append(out, c)
		}
	}
	if on {
		out = append(out, class)
	}
	setAttr(n, "class", strings.Join(out, " "))
}
