package extractor

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
)

// node is one element of a parsed markup tree. The tree is schema-agnostic;
// tax source paths are resolved against it by segment-wise descendant
// search, so a configured path matches at any depth.
type node struct {
	name     string
	text     string
	attrs    map[string]string
	children []*node
}

// parseTree decodes payload into a node tree rooted at the first element.
func parseTree(payload []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if err != nil {
			if root != nil && len(stack) == 0 {
				return root, nil
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(t.Attr) > 0 {
				n.attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if root != nil && len(stack) == 0 {
				return root, nil
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
}

// find returns the first descendant (depth-first, document order) with the
// given local name. The receiver itself is not considered.
func (n *node) find(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	for _, c := range n.children {
		if hit := c.find(name); hit != nil {
			return hit
		}
	}
	return nil
}

// findAll collects every descendant with the given local name in document
// order.
func (n *node) findAll(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// lookup resolves a dotted path segment by segment. Each segment matches a
// descendant at any depth below the previous one, so "total.ICMSTot.vICMS"
// and a bare "vICMS" both resolve against an NFe tree.
func (n *node) lookup(path string) (string, bool) {
	cur := n
	for _, seg := range strings.Split(path, ".") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return "", false
		}
		cur = cur.find(seg)
		if cur == nil {
			return "", false
		}
	}
	return strings.TrimSpace(cur.text), true
}

// textOf returns the trimmed text of the first descendant with the name, or
// empty.
func (n *node) textOf(name string) string {
	if hit := n.find(name); hit != nil {
		return strings.TrimSpace(hit.text)
	}
	return ""
}

// parseNumeric coerces a markup or backend value to a float. Brazilian
// decimal commas are normalized when the value carries no dot.
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		// "1.234,56": dots are thousand separators.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
