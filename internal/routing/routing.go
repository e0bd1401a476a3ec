// Package routing implements the optional per-function routing-policy
// script that can adjust variant weights per call before C10's weighted
// sampling runs (spec.md 4.3's C5 model router, extended: a function may
// configure a Lua script that reweights its variants based on the
// request's tags instead of always using the static config weights).
package routing

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Policy wraps one compiled Lua routing-policy script. A function config
// that sets a policy script gets its variant weights run through Adjust
// before the coordinator's weighted draw; a function with no script uses
// its static weights unchanged.
//
// gopher-lua's *lua.LState is not safe for concurrent use, so each Adjust
// call runs under a mutex — scripts are small reweighting functions, not
// hot-path token generation, so serializing them has not been a
// bottleneck.
type Policy struct {
	mu     sync.Mutex
	state  *lua.LState
	script string
}

// Compile loads and validates script without running it, failing fast at
// config-load time rather than on the first request that hits this
// function.
func Compile(script string) (*Policy, error) {
	state := lua.NewState()
	fn, err := state.LoadString(script)
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("routing: compiling policy script: %w", err)
	}
	state.Push(fn)
	return &Policy{state: state, script: script}, nil
}

// Close releases the underlying Lua state. Safe to call on a nil Policy.
func (p *Policy) Close() {
	if p == nil {
		return
	}
	p.state.Close()
}

// Adjust runs the policy script with `tags` and `weights` (variant name ->
// configured weight) set as Lua globals, and returns whatever the script
// left in the `weights` global afterward. The script may leave `weights`
// untouched, zero out variants it wants excluded from the draw, or
// redistribute mass toward variants it prefers for these tags.
func (p *Policy) Adjust(tags map[string]string, weights map[string]float64) (map[string]float64, error) {
	if p == nil {
		return weights, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	L := p.state

	tagsTable := L.NewTable()
	for k, v := range tags {
		tagsTable.RawSetString(k, lua.LString(v))
	}
	L.SetGlobal("tags", tagsTable)

	weightsTable := L.NewTable()
	for name, w := range weights {
		weightsTable.RawSetString(name, lua.LNumber(w))
	}
	L.SetGlobal("weights", weightsTable)

	if err := L.DoString(p.script); err != nil {
		return nil, fmt.Errorf("routing: running policy script: %w", err)
	}

	result := L.GetGlobal("weights")
	table, ok := result.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("routing: policy script left `weights` as %T, want a table", result)
	}

	adjusted := make(map[string]float64, len(weights))
	table.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if n, ok := v.(lua.LNumber); ok {
			adjusted[string(name)] = float64(n)
		}
	})

	return adjusted, nil
}
