package extract

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/roach88/pagestate/internal/ir"
)

// document is a frame's DOM as rebuilt from its mutation records.
type document struct {
	root *html.Node
}

func newDocument() *document {
	return &document{root: emptyDocument()}
}

func emptyDocument() *html.Node {
	// Parsing cannot fail on an in-memory reader.
	root, _ := html.Parse(strings.NewReader(""))
	return root
}

// apply replays one mutation record onto the tree.
func (d *document) apply(c ir.DomChange) error {
	if c.Op == ir.DomOpDocReset {
		root, err := html.Parse(strings.NewReader(c.HTML))
		if err != nil {
			return fmt.Errorf("%w: doc_reset at %d: %v", ErrInconsistentLog, c.Timestamp, err)
		}
		d.root = root
		return nil
	}

	target, err := d.resolve(c.XPath)
	if err != nil {
		return fmt.Errorf("%s at %d: %w", c.Op, c.Timestamp, err)
	}

	switch c.Op {
	case ir.DomOpInsert:
		nodes, err := html.ParseFragment(strings.NewReader(c.HTML), target)
		if err != nil {
			return fmt.Errorf("%w: insert at %d: %v", ErrInconsistentLog, c.Timestamp, err)
		}
		for _, n := range nodes {
			target.AppendChild(n)
		}
	case ir.DomOpRemove:
		if target.Parent == nil {
			return fmt.Errorf("%w: remove at %d: %s has no parent", ErrInconsistentLog, c.Timestamp, c.XPath)
		}
		target.Parent.RemoveChild(target)
	case ir.DomOpText:
		for child := target.FirstChild; child != nil; {
			next := child.NextSibling
			target.RemoveChild(child)
			child = next
		}
		if c.Value != "" {
			target.AppendChild(&html.Node{Type: html.TextNode, Data: c.Value})
		}
	case ir.DomOpAttr:
		name := strings.ToLower(c.Name)
		for i := range target.Attr {
			if target.Attr[i].Namespace == "" && target.Attr[i].Key == name {
				target.Attr[i].Val = c.Value
				return nil
			}
		}
		target.Attr = append(target.Attr, html.Attribute{Key: name, Val: c.Value})
	case ir.DomOpAttrDel:
		name := strings.ToLower(c.Name)
		kept := target.Attr[:0]
		for _, a := range target.Attr {
			if a.Namespace != "" || a.Key != name {
				kept = append(kept, a)
			}
		}
		target.Attr = kept
	default:
		return fmt.Errorf("%w: unknown op %q at %d", ErrInconsistentLog, c.Op, c.Timestamp)
	}
	return nil
}

// resolve follows a positional XPath such as /html/body/ul/li[2] from the
// document root. A step without an index addresses the first matching
// element child.
func (d *document) resolve(xpath string) (*html.Node, error) {
	if !strings.HasPrefix(xpath, "/") {
		return nil, fmt.Errorf("%w: xpath %q is not absolute", ErrInconsistentLog, xpath)
	}

	current := d.root
	for _, step := range strings.Split(xpath[1:], "/") {
		if step == "" {
			continue
		}
		tag, index, err := parseStep(step)
		if err != nil {
			return nil, fmt.Errorf("%w: xpath %q: %v", ErrInconsistentLog, xpath, err)
		}
		next := nthElementChild(current, tag, index)
		if next == nil {
			return nil, fmt.Errorf("%w: xpath %q: no %s[%d]", ErrInconsistentLog, xpath, tag, index)
		}
		current = next
	}
	return current, nil
}

// parseStep parses "li" or "li[2]".
func parseStep(step string) (string, int, error) {
	open := strings.IndexByte(step, '[')
	if open < 0 {
		return strings.ToLower(step), 1, nil
	}
	if !strings.HasSuffix(step, "]") {
		return "", 0, fmt.Errorf("malformed step %q", step)
	}
	n, err := strconv.Atoi(step[open+1 : len(step)-1])
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("malformed index in step %q", step)
	}
	return strings.ToLower(step[:open]), n, nil
}

func nthElementChild(parent *html.Node, tag string, index int) *html.Node {
	seen := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != tag {
			continue
		}
		seen++
		if seen == index {
			return c
		}
	}
	return nil
}

// domObservations replays the frame's mutations and returns the facts that
// changed between window start and window end.
func domObservations(ctx context.Context, log SessionLog, tabID, frameID int64, w ir.Window) ([]ir.Observation, error) {
	during, err := log.DomChanges(ctx, tabID, frameID, w)
	if err != nil {
		return nil, fmt.Errorf("read dom changes: %w", err)
	}
	if len(during) == 0 {
		return nil, nil
	}
	before, err := log.DomChanges(ctx, tabID, frameID, ir.Window{Start: math.MinInt64, End: w.Start})
	if err != nil {
		return nil, fmt.Errorf("read dom changes before window: %w", err)
	}

	doc := newDocument()
	for _, c := range before {
		if err := doc.apply(c); err != nil {
			return nil, err
		}
	}
	start, _ := collectFacts(doc.root)

	for _, c := range during {
		if err := doc.apply(c); err != nil {
			return nil, err
		}
	}
	end, endLong := collectFacts(doc.root)

	return diffFacts(start, end, endLong), nil
}
