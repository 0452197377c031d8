package plan

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/fsutil"
)

// planFileSchema describes the top level of a plan file: a sequence of
// target blocks.
var planFileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "target", LabelNames: []string{"name"}},
	},
}

// targetSchema describes the body of a single target block.
var targetSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "command", Required: true},
		{Name: "format"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "map"},
		{Type: "cross"},
		{Type: "group"},
	},
}

// transformSchema describes the body of a map/cross/group block.
var transformSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "over", Required: true},
		{Name: "trace"},
		{Name: "by"},
	},
}

// LoadPath loads a plan from a single .hcl file or from every .hcl file
// under a directory, merged in sorted file order.
func LoadPath(ctx context.Context, path string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plan path %q: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("scanning plan directory %q: %w", path, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no .hcl files found under %q", path)
		}
	}

	p := New()
	parser := hclparse.NewParser()
	for _, file := range files {
		logger.Debug("Loading plan file.", "path", file)
		if err := loadFile(parser, file, p); err != nil {
			return nil, err
		}
	}
	logger.Debug("Plan loaded.", "targets", len(p.Targets), "files", len(files))
	return p, nil
}

// loadFile parses one HCL file and appends its targets to the plan.
func loadFile(parser *hclparse.Parser, path string, p *Plan) error {
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("parsing %s: %w", path, diags)
	}

	content, diags := hclFile.Body.Content(planFileSchema)
	if diags.HasErrors() {
		return fmt.Errorf("decoding %s: %w", path, diags)
	}

	for _, block := range content.Blocks {
		target, err := decodeTarget(block, hclFile.Bytes)
		if err != nil {
			return fmt.Errorf("in %s: %w", path, err)
		}
		if err := p.Add(target); err != nil {
			return fmt.Errorf("in %s: %w", path, err)
		}
	}
	return nil
}

// decodeTarget converts a target block into the plan model.
func decodeTarget(block *hcl.Block, src []byte) (*Target, error) {
	name := block.Labels[0]
	content, diags := block.Body.Content(targetSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("target %q: %w", name, diags)
	}

	t := &Target{
		Name:     name,
		DefRange: block.DefRange,
	}

	cmdAttr := content.Attributes["command"]
	t.Command = cmdAttr.Expr
	t.CommandSrc = string(cmdAttr.Expr.Range().SliceBytes(src))

	if formatAttr, ok := content.Attributes["format"]; ok {
		val, valDiags := formatAttr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, fmt.Errorf("target %q: format: %w", name, valDiags)
		}
		t.Format = Format(val.AsString())
	}

	if len(content.Blocks) > 1 {
		return nil, fmt.Errorf("target %q: only one transform block is allowed", name)
	}
	for _, tb := range content.Blocks {
		transform, err := decodeTransform(name, tb)
		if err != nil {
			return nil, err
		}
		t.Transform = transform
	}
	return t, nil
}

// decodeTransform converts a map/cross/group block into a Transform.
// Dimensions are written as bare target identifiers, so each element of
// 'over' (and 'trace'/'by') must reduce to a single-name traversal.
func decodeTransform(target string, block *hcl.Block) (*Transform, error) {
	tr := &Transform{}
	switch block.Type {
	case "map":
		tr.Kind = KindMap
	case "cross":
		tr.Kind = KindCross
	case "group":
		tr.Kind = KindGroup
	}

	content, diags := block.Body.Content(transformSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("target %q: %s block: %w", target, block.Type, diags)
	}

	overAttr := content.Attributes["over"]
	elems, diags := hcl.ExprList(overAttr.Expr)
	if diags.HasErrors() {
		return nil, fmt.Errorf("target %q: 'over' must be a list of target names: %w", target, diags)
	}
	for _, elem := range elems {
		dim, err := exprTargetName(elem)
		if err != nil {
			return nil, fmt.Errorf("target %q: in 'over': %w", target, err)
		}
		tr.Over = append(tr.Over, dim)
	}

	if traceAttr, ok := content.Attributes["trace"]; ok {
		trace, err := exprTargetName(traceAttr.Expr)
		if err != nil {
			return nil, fmt.Errorf("target %q: in 'trace': %w", target, err)
		}
		tr.Trace = trace
	}
	if byAttr, ok := content.Attributes["by"]; ok {
		by, err := exprTargetName(byAttr.Expr)
		if err != nil {
			return nil, fmt.Errorf("target %q: in 'by': %w", target, err)
		}
		tr.By = by
	}
	return tr, nil
}

// exprTargetName reduces an expression to a bare target name.
func exprTargetName(expr hcl.Expression) (string, error) {
	traversal, diags := hcl.AbsTraversalForExpr(expr)
	if diags.HasErrors() || len(traversal) != 1 {
		return "", fmt.Errorf("expected a bare target name at %s", expr.Range())
	}
	return traversal.RootName(), nil
}

// ParseExpression parses a single expression from source text. It is
// the programmatic counterpart of a command attribute in a plan file:
// the returned expression and the source string are meant to populate
// Target.Command and Target.CommandSrc together.
func ParseExpression(src, filename string) (hcl.Expression, hcl.Diagnostics) {
	return hclsyntax.ParseExpression([]byte(src), filename, hcl.InitialPos)
}
