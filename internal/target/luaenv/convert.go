package luaenv

import (
	"fmt"
	"sort"
	"time"

	"github.com/Shopify/go-lua"
)

// pushValue pushes a Go value decoded from JSON or HCL onto the stack.
func pushValue(state *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		state.PushNil()
	case bool:
		state.PushBoolean(v)
	case string:
		state.PushString(v)
	case float64:
		state.PushNumber(v)
	case float32:
		state.PushNumber(float64(v))
	case int:
		state.PushNumber(float64(v))
	case int64:
		state.PushNumber(float64(v))
	case time.Duration:
		state.PushNumber(float64(v.Milliseconds()))
	case []any:
		state.NewTable()
		for i, item := range v {
			state.PushInteger(i + 1)
			pushValue(state, item)
			state.SetTable(-3)
		}
	case []string:
		state.NewTable()
		for i, item := range v {
			state.PushInteger(i + 1)
			state.PushString(item)
			state.SetTable(-3)
		}
	case map[string]any:
		state.NewTable()
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			pushValue(state, v[key])
			state.SetField(-2, key)
		}
	default:
		state.PushString(fmt.Sprint(v))
	}
}

// toValue converts the value at index into its Go form. Numbers are always
// float64 so migrated arguments match their JSON encoding.
func toValue(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return value
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = toValue(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func tableToGo(state *lua.State, index int) any {
	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				maxIndex = max(maxIndex, idx)
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, toValue(state, -1))
			state.Pop(1)
		}
		return result
	}
	return tableToMap(state, index)
}
