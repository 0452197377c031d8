// Package refs extracts target references from command expressions.
//
// The engine treats commands as opaque: the only thing it reads out of
// them is the set of target names they mention. Extraction leans on the
// HCL expression tree — every variable traversal's root name is a
// candidate target reference — so host applications get dependency
// discovery for free, without declaring edges by hand. Function calls
// are not references; a command may call any registered function.
package refs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Referenced walks the given expressions and returns the deduplicated,
// sorted set of root names they traverse. Sorting keeps downstream
// fingerprinting and diagnostics deterministic.
func Referenced(exprs ...hcl.Expression) []string {
	seen := make(map[string]struct{})
	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		for _, traversal := range expr.Variables() {
			seen[traversal.RootName()] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatTraversal converts an hcl.Traversal to a human-readable string
// for log lines and error messages.
func FormatTraversal(t hcl.Traversal) string {
	var sb strings.Builder
	for i, part := range t {
		switch p := part.(type) {
		case hcl.TraverseRoot:
			sb.WriteString(p.Name)
		case hcl.TraverseAttr:
			sb.WriteRune('.')
			sb.WriteString(p.Name)
		case hcl.TraverseIndex:
			sb.WriteRune('[')
			if p.Key.Type() == cty.String {
				sb.WriteString(fmt.Sprintf("%q", p.Key.AsString()))
			} else if p.Key.Type() == cty.Number {
				sb.WriteString(p.Key.AsBigFloat().Text('f', -1))
			} else {
				sb.WriteString("...")
			}
			sb.WriteRune(']')
		default:
			if i > 0 {
				sb.WriteRune('.')
			}
			sb.WriteString("?")
		}
	}
	return sb.String()
}
