// Package rulename parses rule identifiers of the form
// vendor-cloud-number-human-name and resolves loose user-provided fragments
// against a known set of rule ids.
package rulename

import (
	"strings"
)

// Known cloud tokens. The second token of a rule id is treated as a cloud
// only when it is one of these.
var cloudTokens = map[string]string{
	"aws":   "AWS",
	"azure": "AZURE",
	"gcp":   "GOOGLE",
	"k8s":   "KUBERNETES",
}

// Parsed is the decomposition of a rule id. All fields after Vendor are
// optional but appear in order.
type Parsed struct {
	Vendor    string
	Cloud     string
	Number    string
	HumanName string
}

// Parse splits a rule id into up to four hyphen-separated components. The
// cloud is recognized only when the second token is a known cloud; otherwise
// everything after the vendor is the human name.
func Parse(id string) Parsed {
	var p Parsed
	tokens := strings.Split(id, "-")
	if len(tokens) == 0 || tokens[0] == "" {
		return p
	}
	p.Vendor = tokens[0]
	rest := tokens[1:]
	if len(rest) == 0 {
		return p
	}
	cloud, ok := cloudTokens[rest[0]]
	if !ok {
		p.HumanName = strings.Join(rest, "-")
		return p
	}
	p.Cloud = cloud
	rest = rest[1:]
	if len(rest) == 0 {
		return p
	}
	p.Number = rest[0]
	if len(rest) > 1 {
		p.HumanName = strings.Join(rest[1:], "-")
	}
	return p
}

// Resolver matches user-provided fragments against a fixed list of rule ids.
// A fragment matches a rule id when the id contains the fragment.
type Resolver struct {
	from           []string
	allowMultiple  bool
	allowAmbiguous bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// AllowMultiple yields every matching rule id for a fragment instead of
// requiring a unique match.
func AllowMultiple() Option {
	return func(r *Resolver) { r.allowMultiple = true }
}

// AllowAmbiguous yields the first match even when a fragment matches more
// than one rule id.
func AllowAmbiguous() Option {
	return func(r *Resolver) { r.allowAmbiguous = true }
}

// NewResolver creates a Resolver over the given rule ids.
func NewResolver(from []string, opts ...Option) *Resolver {
	r := &Resolver{from: from}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolution is the outcome for a single input fragment. When Resolved is
// false, Names holds the original input so callers can report it.
type Resolution struct {
	Input    string
	Names    []string
	Resolved bool
}

// ResolveOne resolves a single fragment. With neither AllowMultiple nor
// AllowAmbiguous set, a fragment matching more than one rule id is reported
// unresolved rather than silently collapsed.
func (r *Resolver) ResolveOne(input string) Resolution {
	var matches []string
	for _, id := range r.from {
		if strings.Contains(id, input) {
			matches = append(matches, id)
		}
	}
	switch {
	case len(matches) == 0:
		return Resolution{Input: input, Names: []string{input}, Resolved: false}
	case len(matches) == 1:
		return Resolution{Input: input, Names: matches, Resolved: true}
	case r.allowMultiple:
		return Resolution{Input: input, Names: matches, Resolved: true}
	case r.allowAmbiguous:
		return Resolution{Input: input, Names: matches[:1], Resolved: true}
	default:
		return Resolution{Input: input, Names: []string{input}, Resolved: false}
	}
}

// Resolve resolves many fragments, returning resolved rule ids and the
// inputs that could not be resolved.
func (r *Resolver) Resolve(inputs []string) (resolved, unresolved []string) {
	for _, in := range inputs {
		res := r.ResolveOne(in)
		if res.Resolved {
			resolved = append(resolved, res.Names...)
		} else {
			unresolved = append(unresolved, in)
		}
	}
	return resolved, unresolved
}
