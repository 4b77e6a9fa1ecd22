package config

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// maxExecutionSteps bounds a parameter script independent of wall time.
const maxExecutionSteps = 10_000_000

// StarlarkEvaluator executes Starlark scripts with a timeout.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate executes script with input predeclared as globals and returns
// the script's globals. Names starting with an underscore are not exported.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	result := &StarlarkResult{}
	thread := &starlark.Thread{
		Name: "mongocfg",
		Print: func(_ *starlark.Thread, msg string) {
			result.Logs = append(result.Logs, msg)
		},
	}
	thread.SetMaxExecutionSteps(maxExecutionSteps)

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, filename, script, predeclared)
		done <- outcome{globals, err}
	}()

	var out outcome
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		result.ExecutionTime = time.Since(startTime)
		result.Error = fmt.Sprintf("execution timeout after %v", se.timeout)
		return result, fmt.Errorf("starlark execution of %s cancelled: %w", filename, evalCtx.Err())
	case out = <-done:
	}

	result.ExecutionTime = time.Since(startTime)
	if out.err != nil {
		result.Error = out.err.Error()
		return result, fmt.Errorf("starlark execution failed: %w", out.err)
	}

	result.Output = make(map[string]interface{})
	for name, val := range out.globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		// Functions defined by the script are helpers, not output.
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		result.Output[name] = goVal
	}

	return result, nil
}

// toStarlarkValue converts script input. Maps become dicts with sorted
// keys so scripts iterate them deterministically.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		items := make([]interface{}, len(val))
		for i, s := range val {
			items[i] = s
		}
		return toStarlarkValue(items)
	case []interface{}:
		elems := make([]starlark.Value, 0, len(val))
		for _, item := range val {
			elem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for _, k := range slices.Sorted(maps.Keys(val)) {
			elem, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), elem); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported type: %T", v)
}

// fromStarlarkValue converts script output to plain Go values: ints become
// int64, lists and tuples []interface{}, dicts and structs
// map[string]interface{}.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, k := range val.Keys() {
			key, ok := starlark.AsString(k)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", k.Type())
			}
			elem, _, _ := val.Get(k)
			goVal, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = goVal
		}
		return out, nil
	case *starlarkstruct.Struct:
		fields := make(starlark.StringDict)
		val.ToStringDict(fields)
		out := make(map[string]interface{}, len(fields))
		for name, field := range fields {
			goVal, err := fromStarlarkValue(field)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out[name] = goVal
		}
		return out, nil
	case starlark.Indexable:
		// list and tuple
		out := make([]interface{}, val.Len())
		for i := range out {
			goVal, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = goVal
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
}
