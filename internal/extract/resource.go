package extract

import (
	"net/url"
	"strings"

	"github.com/roach88/pagestate/internal/ir"
)

// resourceObservations returns one existence fact per distinct resource per
// frame. Timing and repetition are not part of the fact.
func resourceObservations(resources []ir.Resource) map[int64][]ir.Observation {
	out := make(map[int64][]ir.Observation)
	type seenKey struct {
		frameID int64
		args    string
	}
	seen := make(map[seenKey]bool)

	for _, r := range resources {
		args := resourceArgs(r)
		// Plain strings only; this cannot fail.
		id, _ := ir.MarshalCanonical(args)
		k := seenKey{frameID: r.FrameID, args: string(id)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out[r.FrameID] = append(out[r.FrameID], ir.Observation{
			Type:   ir.KindResource,
			Args:   args,
			Result: ir.IRBool(true),
		})
	}
	return out
}

func resourceArgs(r ir.Resource) ir.IRArray {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = "GET"
	}
	return ir.IRArray{ir.IRObject{
		"url":    ir.IRString(normalizeURL(r.URL)),
		"method": ir.IRString(method),
		"type":   ir.IRString(r.ResourceType),
	}}
}

// normalizeURL drops the fragment and lower-cases scheme and host.
// Unparseable URLs are kept verbatim.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
