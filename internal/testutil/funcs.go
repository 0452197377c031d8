package testutil

import (
	"errors"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// EchoFunc returns its argument unchanged, counting invocations. The
// counter is how tests observe whether a command actually executed or
// was served from the cache.
func EchoFunc(calls *atomic.Int32) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{
			Name:             "v",
			Type:             cty.DynamicPseudoType,
			AllowDynamicType: true,
		}},
		Type: func(args []cty.Value) (cty.Type, error) {
			return args[0].Type(), nil
		},
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			calls.Add(1)
			return args[0], nil
		},
	})
}

// DoubleFunc doubles a number, counting invocations.
func DoubleFunc(calls *atomic.Int32) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "n", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			calls.Add(1)
			return args[0].Multiply(cty.NumberIntVal(2)), nil
		},
	})
}

// SumFunc sums a sequence of numbers, counting invocations.
func SumFunc(calls *atomic.Int32) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{
			Name:             "seq",
			Type:             cty.DynamicPseudoType,
			AllowDynamicType: true,
		}},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			calls.Add(1)
			sum := cty.Zero
			for it := args[0].ElementIterator(); it.Next(); {
				_, v := it.Element()
				sum = sum.Add(v)
			}
			return sum, nil
		},
	})
}

// PairFunc concatenates two values into "a-b", counting invocations.
func PairFunc(calls *atomic.Int32) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.String},
			{Name: "b", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			calls.Add(1)
			return cty.StringVal(args[0].AsString() + "-" + args[1].AsString()), nil
		},
	})
}

// FailFunc always fails with the given message.
func FailFunc(msg string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{},
		Type:   function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return cty.NilVal, errors.New(msg)
		},
	})
}
