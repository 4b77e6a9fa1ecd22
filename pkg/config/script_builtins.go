package config

import (
	"go.starlark.net/starlark"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

// scriptBuiltins returns the functions a parameter script can call, bound
// to the facts of the host being rendered.
//
//	default("dbpath")  -> "/var/lib/mongodb", or None for fields without one
//	is_32bit()         -> whether the host architecture is 32-bit
//	is_32bit("i686")   -> the same check for a named architecture
func scriptBuiltins(facts engine.PlatformFacts) map[string]starlark.Value {
	return map[string]starlark.Value{
		"default": starlark.NewBuiltin("default", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var field string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &field); err != nil {
				return nil, err
			}
			v, ok := engine.DefaultFor(field, facts)
			if !ok {
				return starlark.None, nil
			}
			return toStarlarkValue(v)
		}),
		"is_32bit": starlark.NewBuiltin("is_32bit", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			arch := facts.Architecture
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "arch?", &arch); err != nil {
				return nil, err
			}
			return starlark.Bool(engine.Is32Bit(arch)), nil
		}),
	}
}
