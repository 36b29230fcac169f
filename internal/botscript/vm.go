// Package botscript runs the simulated bot's tile-selection scripts in a
// sandboxed JavaScript runtime.
//
// A script defines plan(puzzle) and returns the tile indices to click, in
// click order. The puzzle argument exposes seed, id, target, tiles,
// targetIndices and tileCount.
package botscript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/zkpoh/internal/puzzle"
)

// DefaultScript clicks exactly the target tiles.
const DefaultScript = `function plan(puzzle) { return puzzle.targetIndices; }`

// ErrNoPlan is returned when a script does not define plan().
var ErrNoPlan = errors.New("script must define a plan() function")

// LogEntry is a single log line written by a script.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// VM wraps a goja runtime with sandbox restrictions.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	logs    []LogEntry
	logsMu  sync.Mutex
	maxLogs int
}

const (
	scriptInitTimeout = 2 * time.Second
	scriptCallTimeout = 1 * time.Second
)

// NewVM creates a sandboxed runtime. Math.random is seeded from seed so a
// script's choices replay identically for the same puzzle.
func NewVM(seed int32) *VM {
	vm := &VM{
		runtime: goja.New(),
		maxLogs: 200,
	}
	vm.runtime.SetRandSource(puzzle.FloatSource(seed))
	vm.injectGlobals()
	return vm
}

func (vm *VM) injectGlobals() {
	vm.runtime.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		vm.logsMu.Lock()
		if len(vm.logs) >= vm.maxLogs {
			vm.logs = vm.logs[1:]
		}
		vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: strings.Join(parts, " ")})
		vm.logsMu.Unlock()

		return goja.Undefined()
	})

	console := vm.runtime.NewObject()
	console.Set("log", vm.runtime.Get("log"))
	vm.runtime.Set("console", console)

	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("fetch", goja.Undefined())
	vm.runtime.Set("XMLHttpRequest", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
	vm.runtime.Set("Function", goja.Undefined())
}

// Execute runs script source once to register plan().
func (vm *VM) Execute(ctx context.Context, source string) error {
	return vm.runWithTimeout(ctx, scriptInitTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("script execution error: %w", err)
		}
		return nil
	})
}

// Plan calls plan(puzzle) and validates the returned indices. Duplicates are
// dropped, keeping the first occurrence.
func (vm *VM) Plan(ctx context.Context, p puzzle.Puzzle) ([]int, error) {
	var out []int
	err := vm.runWithTimeout(ctx, scriptCallTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()

		fn := vm.runtime.Get("plan")
		if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
			return ErrNoPlan
		}
		callable, ok := goja.AssertFunction(fn)
		if !ok {
			return fmt.Errorf("plan is not a function")
		}

		result, err := callable(goja.Undefined(), vm.runtime.ToValue(puzzleObject(p)))
		if err != nil {
			return fmt.Errorf("plan() error: %w", err)
		}
		out, err = toIndices(vm.runtime, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Logs returns a copy of the script's log buffer.
func (vm *VM) Logs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

// Plan runs source (DefaultScript when empty) against p in a fresh VM.
func Plan(ctx context.Context, source string, p puzzle.Puzzle) ([]int, error) {
	if strings.TrimSpace(source) == "" {
		source = DefaultScript
	}
	vm := NewVM(p.Seed)
	if err := vm.Execute(ctx, source); err != nil {
		return nil, err
	}
	return vm.Plan(ctx, p)
}

func puzzleObject(p puzzle.Puzzle) map[string]any {
	tiles := make([]any, len(p.Tiles))
	for i, t := range p.Tiles {
		tiles[i] = string(t)
	}
	targets := make([]any, len(p.TargetIndices))
	for i, idx := range p.TargetIndices {
		targets[i] = int64(idx)
	}
	return map[string]any{
		"seed":          p.Seed,
		"id":            p.ID,
		"target":        string(p.Target),
		"tiles":         tiles,
		"targetIndices": targets,
		"tileCount":     puzzle.TileCount,
	}
}

func toIndices(rt *goja.Runtime, v goja.Value) ([]int, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("plan() must return an array of tile indices")
	}
	var raw []any
	if err := rt.ExportTo(v, &raw); err != nil {
		return nil, fmt.Errorf("plan() must return an array of tile indices: %w", err)
	}

	seen := make(map[int]bool, len(raw))
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		var idx int
		switch n := item.(type) {
		case int:
			idx = n
		case int32:
			idx = int(n)
		case int64:
			idx = int(n)
		case float64:
			if n != float64(int(n)) {
				return nil, fmt.Errorf("tile index %v is not an integer", n)
			}
			idx = int(n)
		default:
			return nil, fmt.Errorf("tile index %v is not a number", item)
		}
		if idx < 0 || idx >= puzzle.TileCount {
			return nil, fmt.Errorf("tile index %d out of range [0, %d)", idx, puzzle.TileCount)
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out, nil
}

func (vm *VM) runWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reason string
	select {
	case err := <-done:
		return err
	case <-timer.C:
		reason = "script execution timeout"
	case <-ctx.Done():
		reason = "script cancelled"
	}

	vm.runtime.Interrupt(reason)
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", reason, err)
		}
		return errors.New(reason)
	case <-time.After(200 * time.Millisecond):
		return errors.New(reason)
	}
}
