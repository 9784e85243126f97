package luaenv

import (
	"time"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/sessionstore"
)

// pushContext pushes the table a script receives as its only argument.
// Mission objects are copied in as plain tables; operations are closures
// over sc so every call goes through its instance check.
func (r *runtime) pushContext(sc *sandbox.Context) {
	state := r.state
	state.NewTable()

	state.PushString(sc.SessionID())
	state.SetField(-2, "sessionId")
	state.PushString(sc.InstanceID())
	state.SetField(-2, "instanceId")
	state.PushString(sc.EnvironmentID())
	state.SetField(-2, "environmentId")
	state.PushString(sc.TargetID())
	state.SetField(-2, "targetId")

	pushValue(state, sc.Args())
	state.SetField(-2, "args")

	m := sc.Mission()
	pushValue(state, map[string]any{
		"_id":               m.ID,
		"name":              m.Name,
		"infiniteResources": m.InfiniteResources,
		"structureVersion":  float64(m.StructureVersion),
	})
	state.SetField(-2, "mission")

	if f, ok := sc.Force(); ok {
		pushValue(state, map[string]any{
			"_id":                f.ID,
			"name":               f.Name,
			"color":              f.Color,
			"initialResources":   f.InitialResources,
			"resourcesRemaining": f.ResourcesRemaining,
		})
		state.SetField(-2, "force")
	}
	if n, ok := sc.Node(); ok {
		pushValue(state, map[string]any{
			"_id":            n.ID,
			"prototypeId":    n.PrototypeID,
			"name":           n.Name,
			"description":    n.Description,
			"color":          n.Color,
			"executable":     n.Executable,
			"device":         n.Device,
			"opened":         n.Opened,
			"blocked":        n.Blocked,
			"revealed":       n.Revealed,
			"executionState": string(n.ExecutionState),
		})
		state.SetField(-2, "node")
	}
	if a, ok := sc.Action(); ok {
		pushValue(state, map[string]any{
			"_id":           a.ID,
			"name":          a.Name,
			"description":   a.Description,
			"successChance": a.SuccessChance,
			"processTime":   a.ProcessTime,
			"resourceCost":  a.ResourceCost,
		})
		state.SetField(-2, "action")
	}
	if e, ok := sc.Effect(); ok {
		pushValue(state, map[string]any{
			"_id":                      e.ID,
			"name":                     e.Name,
			"targetId":                 e.TargetID,
			"environmentId":            e.EnvironmentID,
			"targetEnvironmentVersion": e.TargetEnvironmentVersion,
			"trigger":                  e.Trigger,
			"order":                    e.Order,
		})
		state.SetField(-2, "effect")
	}
	if x, ok := sc.Execution(); ok {
		pushValue(state, map[string]any{
			"_id":           x.ID,
			"actionId":      x.ActionID,
			"nodeId":        x.NodeID,
			"start":         float64(x.Start.UnixMilli()),
			"end":           float64(x.End.UnixMilli()),
			"status":        string(x.Status),
			"timeRemaining": x.TimeRemaining,
		})
		state.SetField(-2, "execution")
	}

	lua.SetFunctions(state, r.contextFunctions(sc), 0)
}

func (r *runtime) contextFunctions(sc *sandbox.Context) []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "openNode", Function: func(state *lua.State) int {
			r.check(state, sc.OpenNode(lua.OptString(state, 1, "")))
			return 0
		}},
		{Name: "blockNode", Function: func(state *lua.State) int {
			r.check(state, sc.BlockNode(lua.OptString(state, 1, "")))
			return 0
		}},
		{Name: "unblockNode", Function: func(state *lua.State) int {
			r.check(state, sc.UnblockNode(lua.OptString(state, 1, "")))
			return 0
		}},
		{Name: "modifySuccessChance", Function: func(state *lua.State) int {
			value, err := sc.ModifySuccessChance(lua.OptString(state, 2, ""), lua.CheckNumber(state, 1))
			r.check(state, err)
			state.PushNumber(value)
			return 1
		}},
		{Name: "modifyProcessTime", Function: func(state *lua.State) int {
			delta := time.Duration(lua.CheckNumber(state, 1) * float64(time.Millisecond))
			value, err := sc.ModifyProcessTime(lua.OptString(state, 2, ""), delta)
			r.check(state, err)
			state.PushNumber(float64(value.Milliseconds()))
			return 1
		}},
		{Name: "modifyResourceCost", Function: func(state *lua.State) int {
			value, err := sc.ModifyResourceCost(lua.OptString(state, 2, ""), lua.CheckNumber(state, 1))
			r.check(state, err)
			state.PushNumber(value)
			return 1
		}},
		{Name: "modifyResourcePool", Function: func(state *lua.State) int {
			value, err := sc.ModifyResourcePool(lua.OptString(state, 2, ""), lua.CheckNumber(state, 1))
			r.check(state, err)
			state.PushNumber(value)
			return 1
		}},
		{Name: "sendOutput", Function: func(state *lua.State) int {
			r.check(state, sc.SendOutput(lua.OptString(state, 2, ""), lua.CheckString(state, 1)))
			return 0
		}},
		{Name: "use", Function: func(state *lua.State) int {
			return r.use(state, sc.Store)
		}},
		{Name: "set", Function: func(state *lua.State) int {
			return r.set(state, sc.Store)
		}},
		{Name: "globalUse", Function: func(state *lua.State) int {
			return r.use(state, sc.GlobalStore)
		}},
		{Name: "globalSet", Function: func(state *lua.State) int {
			return r.set(state, sc.GlobalStore)
		}},
	}
}

// use(key, default) returns the stored value, seeding it with default.
func (r *runtime) use(state *lua.State, open func() (*sessionstore.Store, error)) int {
	key := lua.CheckString(state, 1)
	store, err := open()
	r.check(state, err)
	pushValue(state, store.Use(key, toValue(state, 2)).Get())
	return 1
}

// set(key, value) replaces the stored value.
func (r *runtime) set(state *lua.State, open func() (*sessionstore.Store, error)) int {
	key := lua.CheckString(state, 1)
	store, err := open()
	r.check(state, err)
	store.Use(key, nil).Set(toValue(state, 2))
	return 0
}

// check raises err as a Lua error and keeps it for callError.
func (r *runtime) check(state *lua.State, err error) {
	if err == nil {
		return
	}
	r.opErr = err
	lua.Errorf(state, "%s", err.Error())
}
