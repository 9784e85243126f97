package luaenv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/target"
)

// registryKey holds the table returned by the environment script.
const registryKey = "metis.environment"

// removedGlobals are base functions that would let scripts reach the file
// system or load unchecked code.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require"}

// runtime owns one Lua state. go-lua states are not safe for concurrent
// use, so every call holds mu.
type runtime struct {
	mu            sync.Mutex
	state         *lua.State
	environmentID string
	logger        *slog.Logger
	opErr         error
}

func newRuntime(environmentID, scriptPath string, logger *slog.Logger) (*runtime, error) {
	state := lua.NewState()
	for _, lib := range []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "math", Function: lua.MathOpen},
	} {
		lua.Require(state, lib.Name, lib.Function, true)
		state.Pop(1)
	}
	for _, name := range removedGlobals {
		state.PushNil()
		state.SetGlobal(name)
	}

	r := &runtime{state: state, environmentID: environmentID, logger: logger}
	state.PushGoFunction(r.print)
	state.SetGlobal("print")

	if err := lua.LoadFile(state, scriptPath, "t"); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}
	if state.TypeOf(-1) != lua.TypeTable {
		state.Pop(1)
		return nil, fmt.Errorf("environment script %s must return a table", scriptPath)
	}
	state.SetField(lua.RegistryIndex, registryKey)
	return r, nil
}

// print routes script output to the structured logger.
func (r *runtime) print(state *lua.State) int {
	parts := make([]string, 0, state.Top())
	for i := 1; i <= state.Top(); i++ {
		parts = append(parts, fmt.Sprint(toValue(state, i)))
	}
	r.logger.Info("lua print", "environment_id", r.environmentID, "message", strings.Join(parts, " "))
	return 0
}

// pushPath walks the environment table along path and leaves the final
// value on top. String segments index by field, int segments by position.
// It reports false, with the stack unchanged below the pushed values, when
// an intermediate value is not a table.
func (r *runtime) pushPath(path ...any) bool {
	state := r.state
	state.Field(lua.RegistryIndex, registryKey)
	for _, segment := range path {
		if state.TypeOf(-1) != lua.TypeTable {
			return false
		}
		switch key := segment.(type) {
		case string:
			state.Field(-1, key)
		case int:
			state.RawGetInt(-1, key)
		}
	}
	return true
}

func (r *runtime) typeAt(path ...any) lua.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.state.Top()
	defer r.state.SetTop(base)
	if !r.pushPath(path...) {
		return lua.TypeNil
	}
	return r.state.TypeOf(-1)
}

func (r *runtime) hasFunction(path ...any) bool {
	return r.typeAt(path...) == lua.TypeFunction
}

// hookCount returns how many functions are registered for method. A
// single function counts as one; a list is read until its first gap.
func (r *runtime) hookCount(method target.HookMethod) int {
	switch r.typeAt("hooks", string(method)) {
	case lua.TypeFunction:
		return 1
	case lua.TypeTable:
		n := 0
		for r.hasFunction("hooks", string(method), n+1) {
			n++
		}
		return n
	}
	return 0
}

// targetIDs lists the keys of the targets table.
func (r *runtime) targetIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.state
	base := state.Top()
	defer state.SetTop(base)
	if !r.pushPath("targets") || state.TypeOf(-1) != lua.TypeTable {
		return nil
	}
	return mapKeys(tableToMap(state, -1))
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}

// callWithContext calls the function at path with a context table.
func (r *runtime) callWithContext(ctx context.Context, sc *sandbox.Context, path ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.state
	base := state.Top()
	defer state.SetTop(base)

	if !r.pushPath(path...) || state.TypeOf(-1) != lua.TypeFunction {
		return fmt.Errorf("environment %s: %s is not a function", r.environmentID, describePath(path))
	}
	r.pushContext(sc)
	r.opErr = nil
	if err := state.ProtectedCall(1, 0, 0); err != nil {
		return r.callError(path, err)
	}
	return nil
}

// migrate calls targets[targetID].migrations[version](args). A script
// returning nil keeps the (possibly mutated) argument table.
func (r *runtime) migrate(targetID, version string, args map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.state
	base := state.Top()
	defer state.SetTop(base)

	pushValue(state, args)
	argsIndex := state.Top()
	path := []any{"targets", targetID, "migrations", version}
	if !r.pushPath(path...) || state.TypeOf(-1) != lua.TypeFunction {
		return nil, fmt.Errorf("environment %s: %s is not a function", r.environmentID, describePath(path))
	}
	state.PushValue(argsIndex)
	r.opErr = nil
	if err := state.ProtectedCall(1, 1, 0); err != nil {
		return nil, r.callError(path, err)
	}
	switch state.TypeOf(-1) {
	case lua.TypeTable:
		return tableToMap(state, -1), nil
	case lua.TypeNil:
		return tableToMap(state, argsIndex), nil
	default:
		return nil, fmt.Errorf("environment %s: %s must return a table", r.environmentID, describePath(path))
	}
}

// callError prefers the Go error raised by a context operation so codes
// such as OUTDATED_CONTEXT survive the trip through Lua. An operation error
// the script caught with pcall is ignored unless the raised error still
// carries its message.
func (r *runtime) callError(path []any, err error) error {
	opErr := r.opErr
	r.opErr = nil
	if opErr != nil && strings.Contains(err.Error(), opErr.Error()) {
		err = opErr
	}
	return fmt.Errorf("environment %s: %s: %w", r.environmentID, describePath(path), err)
}

func describePath(path []any) string {
	var b strings.Builder
	for i, segment := range path {
		switch key := segment.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(key)
		case int:
			fmt.Fprintf(&b, "[%d]", key)
		}
	}
	return b.String()
}
