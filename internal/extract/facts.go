package extract

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/roach88/pagestate/internal/ir"
)

// maxTextLen bounds the text carried by string() and text() facts.
// Longer text is page content rather than structure.
const maxTextLen = 200

// Elements whose text is never a structural fact.
var skipText = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// factSet maps an XPath expression to its value on one tree.
type factSet map[string]ir.IRValue

// collectFacts evaluates every fact shape on the tree:
//
//	count(/HTML/BODY/UL/LI)
//	count(/HTML/BODY/DIV[@class="slider"][@style="width: 50%;"])
//	string(/HTML/BODY/H1)
//	count(//H1[text()="Page 1"])
//
// It also returns the paths whose own text is too long to carry, so a
// caller can tell them apart from elements with no text.
func collectFacts(root *html.Node) (factSet, map[string]bool) {
	counts := make(map[string]int64)
	texts := make(map[string]string)
	longText := make(map[string]bool)

	var walk func(n *html.Node, path string)
	walk = func(n *html.Node, path string) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			tag := strings.ToUpper(c.Data)
			p := path + "/" + tag
			counts[countExpr(p)]++
			if pred := attrPredicate(c); pred != "" {
				counts[countExpr(p+pred)]++
			}
			if text, ok := ownText(c); !ok {
				longText[p] = true
			} else if text != "" && !skipText[c.Data] {
				texts[p] = text
				counts[fmt.Sprintf("count(//%s[text()=%s])", tag, quoteLiteral(text))]++
			}
			walk(c, p)
		}
	}
	walk(root, "")

	facts := make(factSet, len(counts)+len(texts))
	for expr, n := range counts {
		facts[expr] = ir.IRInt(n)
	}
	for path, text := range texts {
		// Only a unique path has a well-defined string value.
		if counts[countExpr(path)] == 1 {
			facts[stringExpr(path)] = ir.IRString(text)
		}
	}
	return facts, longText
}

// diffFacts returns observations for facts that are new or changed at end.
// A fact that disappeared is observed with its zero value. endLong holds
// the paths whose text at end is too long to carry.
func diffFacts(start, end factSet, endLong map[string]bool) []ir.Observation {
	var out []ir.Observation
	for expr, v := range end {
		if sv, ok := start[expr]; ok && ir.Equal(sv, v) {
			continue
		}
		out = append(out, xpathObservation(expr, v))
	}
	for expr, sv := range start {
		if _, ok := end[expr]; ok {
			continue
		}
		switch sv.(type) {
		case ir.IRInt:
			out = append(out, xpathObservation(expr, ir.IRInt(0)))
		case ir.IRString:
			// A path that vanished or whose single element lost its text
			// reads as "". Several matches, or text too long to carry,
			// leave string() undefined.
			path := strings.TrimSuffix(strings.TrimPrefix(expr, "string("), ")")
			n, stillThere := end[countExpr(path)]
			if !stillThere || (ir.Equal(n, ir.IRInt(1)) && !endLong[path]) {
				out = append(out, xpathObservation(expr, ir.IRString("")))
			}
		}
	}
	return out
}

func xpathObservation(expr string, v ir.IRValue) ir.Observation {
	return ir.Observation{Type: ir.KindXPath, Args: ir.IRArray{ir.IRString(expr)}, Result: v}
}

func countExpr(path string) string  { return "count(" + path + ")" }
func stringExpr(path string) string { return "string(" + path + ")" }

// attrPredicate renders the element's attributes as [@name="value"] steps
// sorted by name.
func attrPredicate(n *html.Node) string {
	if len(n.Attr) == 0 {
		return ""
	}
	attrs := slices.Clone(n.Attr)
	slices.SortFunc(attrs, func(a, b html.Attribute) int {
		return strings.Compare(a.Key, b.Key)
	})
	var b strings.Builder
	for _, a := range attrs {
		if a.Namespace != "" {
			continue
		}
		fmt.Fprintf(&b, "[@%s=%s]", a.Key, quoteLiteral(a.Val))
	}
	return b.String()
}

// ownText returns the element's direct text children, trimmed and with
// whitespace runs collapsed. ok is false when the text is longer than
// maxTextLen.
func ownText(n *html.Node) (text string, ok bool) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	}
	text = strings.Join(strings.Fields(b.String()), " ")
	if utf8.RuneCountInString(text) > maxTextLen {
		return "", false
	}
	return text, true
}

// quoteLiteral renders s as an XPath 1.0 string literal. XPath has no
// escapes, so a value holding both quote kinds becomes a concat().
func quoteLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	args := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ",") + ")"
}
