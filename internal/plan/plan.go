// Package plan defines the declarative model of a braid run: an ordered
// collection of named targets whose commands are HCL expressions
// referencing other targets by name.
//
// Most fields hold raw hcl.Expression values rather than evaluated Go
// values. This is deliberate: a command cannot be evaluated until the
// targets it references have materialized values, so the model captures
// the user's intent as an expression and the executor resolves it at
// run time. The exact source text of each command is retained alongside
// the expression because it participates in cache invalidation.
package plan

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// Format describes how a target's result aggregates when the target is
// dynamic. FormatValue treats each sub-target result as one element of
// the aggregate; FormatRows treats each result as a sequence whose
// elements are concatenated (row-binding).
type Format string

const (
	FormatValue Format = "value"
	FormatRows  Format = "rows"
)

// TransformKind discriminates the dynamic branching semantics of a
// target.
type TransformKind int

const (
	// KindMap produces one sub-target per aligned element across the
	// dimensions (elementwise zip).
	KindMap TransformKind = iota + 1
	// KindCross produces one sub-target per combination in the
	// Cartesian product of the dimensions. The first-listed dimension
	// varies slowest.
	KindCross
	// KindGroup produces one sub-target per distinct value of the By
	// sequence, in first-occurrence order.
	KindGroup
)

// String returns the HCL block name for the kind.
func (k TransformKind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindCross:
		return "cross"
	case KindGroup:
		return "group"
	}
	return "unknown"
}

// Transform declares how a dynamic target branches over its dimension
// targets at run time.
type Transform struct {
	Kind TransformKind
	// Over lists the dimension target names in declaration order. The
	// order is load-bearing: it fixes cross-product enumeration and
	// the binding of elements inside sub-target commands.
	Over []string
	// Trace optionally names one of the Over dimensions whose element
	// becomes the sub-target's trace label. Map only.
	Trace string
	// By names the target whose sequence drives grouping. Group only.
	By string
}

// Target is a single unit of the plan. Static targets execute their
// command once; targets with a Transform expand into sub-targets at
// run time.
type Target struct {
	Name string
	// Command is the opaque computation. The engine never interprets
	// its semantics, only the target names it references.
	Command hcl.Expression
	// CommandSrc is the exact source text of Command. It is hashed
	// into the target's stamp so that editing a command invalidates
	// its cached result.
	CommandSrc string
	Format     Format
	Transform  *Transform
	// DefRange points at the target's definition for diagnostics.
	DefRange hcl.Range
}

// Dynamic reports whether the target expands into sub-targets.
func (t *Target) Dynamic() bool { return t.Transform != nil }

// Plan is an ordered collection of targets with unique names.
type Plan struct {
	Targets []*Target
	index   map[string]*Target
}

// New returns an initialized, empty Plan.
func New() *Plan {
	return &Plan{index: make(map[string]*Target)}
}

// Add appends a target to the plan. It returns an error if the name is
// already taken or the target's transform is malformed.
func (p *Plan) Add(t *Target) error {
	if t.Name == "" {
		return fmt.Errorf("target name must not be empty")
	}
	if _, exists := p.index[t.Name]; exists {
		return fmt.Errorf("duplicate target name %q", t.Name)
	}
	if t.Command == nil {
		return fmt.Errorf("target %q has no command", t.Name)
	}
	switch t.Format {
	case "", FormatValue, FormatRows:
	default:
		return fmt.Errorf("target %q has unknown format %q", t.Name, t.Format)
	}
	if t.Format == "" {
		t.Format = FormatValue
	}
	if err := validateTransform(t); err != nil {
		return err
	}
	p.Targets = append(p.Targets, t)
	p.index[t.Name] = t
	return nil
}

// Get looks up a target by name.
func (p *Plan) Get(name string) (*Target, bool) {
	t, ok := p.index[name]
	return t, ok
}

// Has reports whether a target with the given name is declared.
func (p *Plan) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Names returns all target names in declaration order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Targets))
	for i, t := range p.Targets {
		names[i] = t.Name
	}
	return names
}

func validateTransform(t *Target) error {
	tr := t.Transform
	if tr == nil {
		return nil
	}
	if len(tr.Over) == 0 {
		return fmt.Errorf("target %q: %s transform needs at least one dimension in 'over'", t.Name, tr.Kind)
	}
	seen := make(map[string]struct{}, len(tr.Over))
	for _, dim := range tr.Over {
		if _, dup := seen[dim]; dup {
			return fmt.Errorf("target %q: dimension %q listed twice in 'over'", t.Name, dim)
		}
		seen[dim] = struct{}{}
	}
	switch tr.Kind {
	case KindMap:
		if tr.Trace != "" {
			if _, ok := seen[tr.Trace]; !ok {
				return fmt.Errorf("target %q: trace %q must be one of the 'over' dimensions", t.Name, tr.Trace)
			}
		}
		if tr.By != "" {
			return fmt.Errorf("target %q: 'by' is only valid in a group transform", t.Name)
		}
	case KindCross:
		if tr.Trace != "" || tr.By != "" {
			return fmt.Errorf("target %q: cross transforms accept only 'over'", t.Name)
		}
	case KindGroup:
		if tr.By == "" {
			return fmt.Errorf("target %q: group transform requires 'by'", t.Name)
		}
		if tr.Trace != "" {
			return fmt.Errorf("target %q: group transforms derive trace labels from 'by'", t.Name)
		}
	default:
		return fmt.Errorf("target %q: unknown transform kind", t.Name)
	}
	return nil
}
