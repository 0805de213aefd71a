// Package instrument holds the automatic instrumentation adapters the
// bootstrap can attach: inbound HTTP (page_load), outbound HTTP (fetch),
// gRPC (xhr) and CLI commands (user_interaction).
//
// Hosts install the hooks when they are built. A hook stays a passthrough
// until its category is attached, so hosts constructed before the bootstrap
// resolves begin emitting spans as soon as it does.
package instrument

import (
	"fmt"
	"sort"
	"strings"
)

// Category names one family of operations that can be traced automatically.
type Category string

const (
	// PageLoad traces inbound HTTP requests served by the host.
	PageLoad Category = "page_load"
	// Fetch traces outbound HTTP requests made through http.DefaultTransport.
	Fetch Category = "fetch"
	// UserInteraction traces CLI command invocations.
	UserInteraction Category = "user_interaction"
	// XHR traces gRPC calls on hooked servers and clients.
	XHR Category = "xhr"
)

// Categories lists every known category in a stable order.
var Categories = []Category{PageLoad, Fetch, UserInteraction, XHR}

// ParseCategory accepts the config spelling of a category. Matching is case
// insensitive and tolerates "-" in place of "_".
func ParseCategory(s string) (Category, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, c := range Categories {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown instrumentation category %q", s)
}

// Set is an immutable set of categories. The zero value is empty and means
// manual instrumentation only.
type Set struct {
	members map[Category]struct{}
}

// NewSet builds a set from categories.
func NewSet(cs ...Category) Set {
	if len(cs) == 0 {
		return Set{}
	}
	m := make(map[Category]struct{}, len(cs))
	for _, c := range cs {
		m[c] = struct{}{}
	}
	return Set{members: m}
}

// ParseSet parses config values; "all" selects every category. A value may
// hold several comma-separated categories. Empty entries are ignored.
func ParseSet(values []string) (Set, error) {
	var cs []Category
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if strings.EqualFold(part, "all") {
				return NewSet(Categories...), nil
			}
			c, err := ParseCategory(part)
			if err != nil {
				return Set{}, err
			}
			cs = append(cs, c)
		}
	}
	return NewSet(cs...), nil
}

// Has reports whether c is in the set.
func (s Set) Has(c Category) bool {
	_, ok := s.members[c]
	return ok
}

// Empty reports whether the set has no members.
func (s Set) Empty() bool {
	return len(s.members) == 0
}

// List returns the members sorted by name.
func (s Set) List() []Category {
	out := make([]Category, 0, len(s.members))
	for c := range s.members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the members as config strings, sorted.
func (s Set) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = string(c)
	}
	return out
}
