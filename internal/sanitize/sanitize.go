// Package sanitize reduces HTML to an allow-list of tags and classes.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Policy is an allow-list. Anything it does not name is removed.
type Policy struct {
	tags    map[string]bool
	classes map[string]map[string]bool
	// unwrap tags are dropped but their children are kept
	unwrap map[string]bool
}

var voidTags = map[string]bool{"br": true, "hr": true}

func DefaultPolicy() *Policy {
	p := &Policy{
		tags:    make(map[string]bool),
		classes: make(map[string]map[string]bool),
		unwrap:  map[string]bool{"div": true},
	}
	for _, t := range []string{
		"p", "h1", "h2", "h3", "h4", "h5", "h6",
		"strong", "em", "b", "i",
		"ul", "ol", "li",
		"table", "thead", "tbody", "tr", "th", "td",
		"blockquote",
		"br", "hr",
	} {
		p.tags[t] = true
	}

	p.allowClasses("th", "border", "border-gray-300", "px-4", "py-3", "text-left", "font-semibold", "text-gray-900")
	p.allowClasses("td", "border", "border-gray-300", "px-4", "py-3", "text-gray-700")
	p.allowClasses("table", "w-full", "border-collapse", "border", "border-gray-300")
	p.allowClasses("blockquote", "border-l-4", "border-blue-500", "pl-4", "py-2", "my-4", "bg-blue-50", "italic", "text-gray-700")
	p.allowClasses("p", "mb-4")
	p.allowClasses("h1", "text-2xl", "font-bold", "mb-4", "mt-6")
	p.allowClasses("h2", "text-xl", "font-semibold", "mb-3", "mt-5")
	p.allowClasses("h3", "text-lg", "font-medium", "mb-2", "mt-4")
	p.allowClasses("h4", "text-base", "font-medium", "mb-2", "mt-3")
	p.allowClasses("ul", "list-disc", "mb-4", "ml-6")
	p.allowClasses("ol", "list-decimal", "mb-4", "ml-6")
	p.allowClasses("li", "ml-4", "mb-1")
	return p
}

func (p *Policy) allowClasses(tag string, classes ...string) {
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	p.classes[tag] = set
}

func (p *Policy) AllowsTag(tag string) bool {
	return p.tags[tag]
}

func (p *Policy) AllowsClass(tag, class string) bool {
	return p.classes[tag][class]
}

var defaultPolicy = DefaultPolicy()

// Sanitize applies the default policy.
func Sanitize(s string) string {
	return defaultPolicy.Sanitize(s)
}

// maxPasses bounds the re-sanitizing needed when the serialized tree is nesting the
// HTML parser would rebuild differently.
const maxPasses = 8

// Sanitize never fails; unparseable input yields an empty string. The result is
// re-sanitized until it stops changing, so sanitizing it again returns it unchanged.
func (p *Policy) Sanitize(s string) string {
	out := p.pass(s)
	for i := 1; i < maxPasses; i++ {
		next := p.pass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func (p *Policy) pass(s string) string {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), context)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for _, n := range nodes {
		p.write(&sb, n)
	}
	return sb.String()
}

func (p *Policy) write(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(html.EscapeString(n.Data))
	case html.ElementNode:
		tag := n.Data
		switch {
		case p.tags[tag]:
			sb.WriteByte('<')
			sb.WriteString(tag)
			if class := p.filterClass(tag, n.Attr); class != "" {
				sb.WriteString(` class="`)
				sb.WriteString(html.EscapeString(class))
				sb.WriteByte('"')
			}
			sb.WriteByte('>')
			if voidTags[tag] {
				return
			}
			p.writeChildren(sb, n)
			sb.WriteString("</")
			sb.WriteString(tag)
			sb.WriteByte('>')
		case p.unwrap[tag]:
			p.writeChildren(sb, n)
		}
		// anything else is dropped together with its subtree
	}
	// comments, doctypes and raw nodes are dropped
}

func (p *Policy) writeChildren(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.write(sb, c)
	}
}

func (p *Policy) filterClass(tag string, attrs []html.Attribute) string {
	allowed := p.classes[tag]
	if allowed == nil {
		return ""
	}
	var kept []string
	for _, a := range attrs {
		if a.Namespace != "" || a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if allowed[c] {
				kept = append(kept, c)
			}
		}
	}
	return strings.Join(kept, " ")
}
