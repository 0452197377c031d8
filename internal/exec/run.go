package exec

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/expand"
	"github.com/braidbuild/braid/internal/plan"
	"github.com/braidbuild/braid/internal/refs"
	"github.com/braidbuild/braid/internal/store"
)

// runStatic evaluates a static target's command against the whole
// values of its dependencies, reusing the stored result when the
// computed stamp matches.
func (e *Executor) runStatic(ctx context.Context, node *Node) error {
	logger := ctxlog.FromContext(ctx).With("target", node.ID)
	t := node.Target

	deps, err := e.graph.Dependencies(t.Name)
	if err != nil {
		return err
	}

	vars := make(map[string]cty.Value, len(deps))
	inputs := make([]string, 0, len(deps))
	for _, dep := range deps {
		entry, err := e.store.Read(ctx, store.Key{Target: dep, Index: store.WholeTarget})
		if err != nil {
			return fmt.Errorf("reading dependency %q of %q: %w", dep, t.Name, err)
		}
		val, err := entry.Value()
		if err != nil {
			return err
		}
		vars[dep] = val
		inputs = append(inputs, entry.Fingerprint)
	}

	key := store.Key{Target: t.Name, Index: store.WholeTarget}
	stamp := store.Stamp(t.CommandSrc, inputs)
	if existing, err := e.store.Read(ctx, key); err == nil && existing.Stamp == stamp {
		node.Cached = true
		logger.Info("⏩ Reusing cached result")
		return nil
	}

	logger.Info("▶️ Running target")
	val, err := evalCommand(node.ID, t.Command, vars, e.funcs)
	if err != nil {
		return err
	}

	entry, err := store.NewEntry(val, stamp, string(t.Format))
	if err != nil {
		return err
	}
	if err := e.store.Write(ctx, key, entry); err != nil {
		return err
	}
	logger.Info("✅ Target done")
	return nil
}

// expandDynamic materializes the dimension values of a dynamic target
// and converts its transform into sub-target nodes. Element values and
// fingerprints are cached on the node so each sub-target can bind and
// stamp the specific elements it consumes.
func (e *Executor) expandDynamic(ctx context.Context, node *Node) ([]*Node, error) {
	logger := ctxlog.FromContext(ctx).With("target", node.ID)
	t := node.Target
	tr := t.Transform

	dimNames := append([]string(nil), tr.Over...)
	if tr.By != "" && !contains(dimNames, tr.By) {
		dimNames = append(dimNames, tr.By)
	}

	node.dimElems = make(map[string][]cty.Value, len(dimNames))
	node.dimFPs = make(map[string][]string, len(dimNames))
	for _, dim := range dimNames {
		entry, err := e.store.Read(ctx, store.Key{Target: dim, Index: store.WholeTarget})
		if err != nil {
			return nil, fmt.Errorf("reading dimension %q of %q: %w", dim, t.Name, err)
		}
		val, err := entry.Value()
		if err != nil {
			return nil, err
		}
		elems, err := expand.Elements(t.Name, dim, val)
		if err != nil {
			return nil, err
		}
		fps := make([]string, len(elems))
		for i, elem := range elems {
			if fps[i], err = store.Fingerprint(elem); err != nil {
				return nil, err
			}
		}
		node.dimElems[dim] = elems
		node.dimFPs[dim] = fps
	}

	subs, err := expand.Expand(t, node.dimElems)
	if err != nil {
		return nil, err
	}
	logger.Debug("Expansion produced sub-targets.", "count", len(subs))

	// Re-expansion may shrink the sub-target count; drop entries whose
	// index no longer exists so stale results cannot be aggregated.
	if err := e.store.Prune(ctx, t.Name, len(subs)); err != nil {
		return nil, err
	}

	subNodes := make([]*Node, len(subs))
	for i := range subs {
		sn := newSubNode(node, &subs[i])
		e.registerSub(node, sn)
		subNodes[i] = sn
	}
	return subNodes, nil
}

// runSub executes one sub-target: it binds each dimension name to the
// specific element(s) this sub-target consumes, binds any other
// referenced target to its whole value, evaluates the command and
// stores the result under the sub-target's index.
func (e *Executor) runSub(ctx context.Context, node *Node) error {
	logger := ctxlog.FromContext(ctx).With("subTarget", node.ID)
	t := node.Target
	tr := t.Transform
	owner := node.Owner
	sub := node.Sub

	vars := make(map[string]cty.Value)
	var inputs []string

	for _, dim := range tr.Over {
		idxs := sub.Elems[dim]
		elems := owner.dimElems[dim]
		fps := owner.dimFPs[dim]
		if tr.Kind == plan.KindGroup {
			subset := make([]cty.Value, len(idxs))
			for i, ix := range idxs {
				subset[i] = elems[ix]
				inputs = append(inputs, fps[ix])
			}
			vars[dim] = tupleOf(subset)
		} else {
			vars[dim] = elems[idxs[0]]
			inputs = append(inputs, fps[idxs[0]])
		}
	}

	// A group command may also reference the 'by' target; it binds to
	// the group's key value.
	if tr.Kind == plan.KindGroup {
		if _, bound := vars[tr.By]; !bound {
			byIdxs := sub.Elems[tr.By]
			vars[tr.By] = owner.dimElems[tr.By][byIdxs[0]]
			for _, ix := range byIdxs {
				inputs = append(inputs, owner.dimFPs[tr.By][ix])
			}
		}
	}

	// Non-dimension references see the referenced target's whole
	// value, exactly as a static command would.
	for _, ref := range refs.Referenced(t.Command) {
		if _, bound := vars[ref]; bound {
			continue
		}
		entry, err := e.store.Read(ctx, store.Key{Target: ref, Index: store.WholeTarget})
		if err != nil {
			return fmt.Errorf("reading dependency %q of %q: %w", ref, node.ID, err)
		}
		val, err := entry.Value()
		if err != nil {
			return err
		}
		vars[ref] = val
		inputs = append(inputs, entry.Fingerprint)
	}

	if sub.HasTrace {
		inputs = append(inputs, "trace:"+sub.Trace)
	}

	key := store.Key{Target: t.Name, Index: sub.Index}
	stamp := store.Stamp(t.CommandSrc, inputs)
	if existing, err := e.store.Read(ctx, key); err == nil && existing.Stamp == stamp {
		node.Cached = true
		owner.cachedSubs.Add(1)
		logger.Debug("Reusing cached sub-target result.")
		return nil
	}

	logger.Debug("Running sub-target.")
	val, err := evalCommand(node.ID, t.Command, vars, e.funcs)
	if err != nil {
		return err
	}

	entry, err := store.NewEntry(val, stamp, string(t.Format))
	if err != nil {
		return err
	}
	entry.Trace = sub.Trace
	entry.HasTrace = sub.HasTrace
	return e.store.Write(ctx, key, entry)
}

// aggregate combines a dynamic target's sub-target results, in
// expansion enumeration order, into the whole-target entry downstream
// references read.
func (e *Executor) aggregate(ctx context.Context, node *Node) error {
	logger := ctxlog.FromContext(ctx).With("target", node.ID)
	t := node.Target

	entries, err := e.store.List(ctx, t.Name)
	if err != nil {
		return err
	}
	if len(entries) != len(node.subs) {
		return fmt.Errorf("target %q: store holds %d sub-target entries, expansion produced %d", t.Name, len(entries), len(node.subs))
	}

	val, err := store.Aggregate(entries, string(t.Format))
	if err != nil {
		return err
	}

	inputs := make([]string, 0, len(entries))
	for _, sub := range entries {
		inputs = append(inputs, sub.Entry.Fingerprint)
	}
	entry, err := store.NewEntry(val, store.Stamp(t.CommandSrc+"\x00aggregate", inputs), string(t.Format))
	if err != nil {
		return err
	}
	if err := e.store.Write(ctx, store.Key{Target: t.Name, Index: store.WholeTarget}, entry); err != nil {
		return err
	}

	node.Cached = len(node.subs) > 0 && int(node.cachedSubs.Load()) == len(node.subs)
	logger.Info("✅ Dynamic target aggregated", "subTargets", len(entries), "cached", node.Cached)
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
