package engine

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/braidbuild/braid/internal/store"
)

// ReadOne returns the whole value of a target: a static target's
// result, or a dynamic target's aggregate. It returns
// *store.NotFoundError if the target has not been computed.
func (e *Engine) ReadOne(ctx context.Context, name string) (cty.Value, error) {
	entry, err := e.store.Read(ctx, store.Key{Target: name, Index: store.WholeTarget})
	if err != nil {
		return cty.NilVal, err
	}
	return entry.Value()
}

// ReadSubtarget returns the value of one sub-target of a dynamic
// target.
func (e *Engine) ReadSubtarget(ctx context.Context, name string, index int) (cty.Value, error) {
	entry, err := e.store.Read(ctx, store.Key{Target: name, Index: index})
	if err != nil {
		return cty.NilVal, err
	}
	return entry.Value()
}

// ReadAggregate assembles a dynamic target's aggregate directly from
// its sub-target entries, in expansion enumeration order. For targets
// whose whole entry is already stored this matches ReadOne.
func (e *Engine) ReadAggregate(ctx context.Context, name string) (cty.Value, error) {
	entry, err := e.store.Read(ctx, store.Key{Target: name, Index: store.WholeTarget})
	if err != nil {
		return cty.NilVal, err
	}
	return store.ReadAggregate(ctx, e.store, name, entry.Format)
}

// ReadTrace returns a dynamic target's trace labels in sub-target
// order. Label i corresponds to the input element that produced
// aggregate element i.
func (e *Engine) ReadTrace(ctx context.Context, name string) ([]string, error) {
	return store.ReadTrace(ctx, e.store, name)
}
