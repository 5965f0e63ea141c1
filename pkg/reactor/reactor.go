// Package reactor is the topologically-ordered handler graph (spec
// §4.11): handlers register with a name, a priority, a set of
// dependencies, and an event pattern; Emit runs every handler whose
// pattern matches the event, in dependency order (priority breaking
// ties), threading a possibly-modified event through the chain.
package reactor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/vaultdex/pkg/events"
	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/rs/zerolog"
)

// CycleError reports a dependency cycle found at registration time,
// naming the offending handler chain so the caller can see exactly
// which DependsOn edges close the loop.
type CycleError struct {
	Chain []string // e.g. ["a", "b", "a"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("reactor: dependency cycle detected: %s", strings.Join(e.Chain, " -> "))
}

// AnyPattern matches every event type.
const AnyPattern = "*"

// Pattern selects which events a Handler runs for.
type Pattern string

func (p Pattern) matches(t events.EventType) bool {
	return p == AnyPattern || string(p) == string(t)
}

// ResultKind is the tagged outcome of one handler invocation.
type ResultKind string

const (
	ResultContinue   ResultKind = "continue"
	ResultCancel     ResultKind = "cancel"
	ResultSoftError  ResultKind = "soft_error"
	ResultFatalError ResultKind = "fatal_error"
)

// Result is what a Handler's Handle function returns.
type Result struct {
	Kind  ResultKind
	Event *events.Event // Continue/SoftError: the (possibly modified) event to pass on
	Err   error         // SoftError/FatalError
}

// Continue passes ev (or, if nil, the unmodified current event) to the
// next handler in order.
func Continue(ev *events.Event) Result { return Result{Kind: ResultContinue, Event: ev} }

// Cancel stops the pass immediately; no further handlers run.
func Cancel() Result { return Result{Kind: ResultCancel} }

// SoftError logs err and continues the pass with ev (or the unmodified
// current event if nil).
func SoftError(ev *events.Event, err error) Result {
	return Result{Kind: ResultSoftError, Event: ev, Err: err}
}

// FatalError stops the pass unless the Reactor runs in FailOpen mode.
func FatalError(err error) Result { return Result{Kind: ResultFatalError, Err: err} }

// HandleFunc is a handler's processing logic.
type HandleFunc func(ctx *Context, ev *events.Event) Result

// Handler is one node in the reactor's dependency graph.
type Handler struct {
	Name      string
	Priority  int
	DependsOn []string
	Pattern   Pattern
	Handle    HandleFunc
}

// Context is passed to every handler invocation for the duration of one
// Emit call (and its follow-up passes). Handlers queue follow-up events
// via Emit; they are dispatched only after the current event's full
// pass completes.
type Context struct {
	emitted []*events.Event
}

// Emit queues a follow-up event to be dispatched after the current
// pass finishes.
func (c *Context) Emit(ev *events.Event) {
	c.emitted = append(c.emitted, ev)
}

// OutcomeKind is the tagged result of a full Emit call.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome mirrors the reactor's EmitResult shape.
type Outcome struct {
	Kind        OutcomeKind
	Event       *events.Event // set when Kind == Completed
	HandlersRun []string
	ByHandler   string // set when Kind == Cancelled
	Handler     string // set when Kind == Failed
	Err         error  // set when Kind == Failed
}

// FailMode governs what happens when a handler returns FatalError.
type FailMode string

const (
	// FailOpen logs the fatal error and continues the pass (default).
	FailOpen FailMode = "fail_open"
	// FailClosed stops the pass and reports Outcome{Kind: Failed}.
	FailClosed FailMode = "fail_closed"
)

// maxEmitDepth bounds the follow-up-event cascade a single external
// Emit call can trigger, so a handler that emits in response to its own
// kind of event can't recurse forever.
const maxEmitDepth = 5

// Reactor holds the registered handlers and their cached topological
// order, recomputed on every Register/Unregister.
type Reactor struct {
	handlers map[string]Handler
	order    []string
	failMode FailMode
	logger   zerolog.Logger
}

// New constructs an empty Reactor.
func New(failMode FailMode) *Reactor {
	return &Reactor{
		handlers: make(map[string]Handler),
		failMode: failMode,
		logger:   log.WithComponent("reactor"),
	}
}

// Register adds a handler to the graph and recomputes the topological
// order, detecting cycles and missing dependencies at registration time
// rather than at emit time.
func (r *Reactor) Register(h Handler) error {
	if h.Name == "" {
		return fmt.Errorf("reactor: handler must have a name")
	}
	if _, exists := r.handlers[h.Name]; exists {
		return fmt.Errorf("reactor: handler %q already registered", h.Name)
	}

	trial := make(map[string]Handler, len(r.handlers)+1)
	for k, v := range r.handlers {
		trial[k] = v
	}
	trial[h.Name] = h

	order, err := topologicalOrder(trial)
	if err != nil {
		return err
	}

	r.handlers = trial
	r.order = order
	return nil
}

// Unregister removes a handler and recomputes the order.
func (r *Reactor) Unregister(name string) error {
	if _, ok := r.handlers[name]; !ok {
		return fmt.Errorf("reactor: handler %q not registered", name)
	}
	trial := make(map[string]Handler, len(r.handlers)-1)
	for k, v := range r.handlers {
		if k != name {
			trial[k] = v
		}
	}
	order, err := topologicalOrder(trial)
	if err != nil {
		return err
	}
	r.handlers = trial
	r.order = order
	return nil
}

// HandlerNames returns the cached topological order.
func (r *Reactor) HandlerNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Emit runs ev through every matching handler in dependency order.
func (r *Reactor) Emit(ctx context.Context, ev *events.Event) Outcome {
	return r.emit(ctx, ev, 0)
}

func (r *Reactor) emit(ctx context.Context, ev *events.Event, depth int) Outcome {
	if depth > maxEmitDepth {
		r.logger.Warn().Str("event_type", string(ev.Type)).Int("depth", depth).Msg("reactor: follow-up event cascade exceeded max depth, dropping")
		return Outcome{Kind: OutcomeCompleted, Event: ev}
	}

	hctx := &Context{}
	current := ev
	var handlersRun []string

	for _, name := range r.order {
		if ctx.Err() != nil {
			break
		}
		h, ok := r.handlers[name]
		if !ok || !h.Pattern.matches(current.Type) {
			continue
		}

		result := h.Handle(hctx, current)
		handlersRun = append(handlersRun, name)

		switch result.Kind {
		case ResultContinue:
			if result.Event != nil {
				current = result.Event
			}
		case ResultCancel:
			return Outcome{Kind: OutcomeCancelled, ByHandler: name, HandlersRun: handlersRun}
		case ResultSoftError:
			r.logger.Warn().Str("handler", name).Err(result.Err).Msg("reactor: handler soft error")
			if result.Event != nil {
				current = result.Event
			}
		case ResultFatalError:
			if r.failMode == FailOpen {
				r.logger.Error().Str("handler", name).Err(result.Err).Msg("reactor: handler fatal error (fail-open, continuing)")
				continue
			}
			return Outcome{Kind: OutcomeFailed, Handler: name, Err: result.Err, HandlersRun: handlersRun}
		}
	}

	for _, followUp := range hctx.emitted {
		r.emit(ctx, followUp, depth+1)
	}

	return Outcome{Kind: OutcomeCompleted, Event: current, HandlersRun: handlersRun}
}

// topologicalOrder computes a Kahn's-algorithm order over handlers'
// DependsOn edges, breaking ties among simultaneously-ready handlers by
// descending Priority, then by name for determinism.
func topologicalOrder(handlers map[string]Handler) ([]string, error) {
	indegree := make(map[string]int, len(handlers))
	dependents := make(map[string][]string, len(handlers))
	for name := range handlers {
		indegree[name] = 0
	}
	for name, h := range handlers {
		for _, dep := range h.DependsOn {
			if _, ok := handlers[dep]; !ok {
				return nil, fmt.Errorf("reactor: handler %q depends on unregistered handler %q", name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
			indegree[name]++
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := handlers[ready[i]], handlers[ready[j]]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return ready[i] < ready[j]
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(handlers) {
		return nil, &CycleError{Chain: findCycle(handlers, indegree)}
	}
	return order, nil
}

// findCycle recovers a concrete cycle path among the handlers left with
// nonzero indegree after Kahn's algorithm stalls. Those handlers are
// exactly the cycle members (plus anything depending on the cycle); a
// DFS over their DependsOn edges, starting from any one of them, must
// eventually revisit a node, which closes the reported chain.
func findCycle(handlers map[string]Handler, indegree map[string]int) []string {
	var start string
	remaining := make(map[string]bool)
	for name, deg := range indegree {
		if deg > 0 {
			remaining[name] = true
			if start == "" || name < start {
				start = name
			}
		}
	}
	if start == "" {
		return nil
	}

	visited := make(map[string]int) // name -> position in path
	path := []string{start}
	visited[start] = 0
	current := start

	for {
		h := handlers[current]
		var next string
		for _, dep := range h.DependsOn {
			if remaining[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			// Shouldn't happen for a genuine cycle member, but bail
			// out cleanly rather than loop forever.
			return path
		}
		if pos, seen := visited[next]; seen {
			path = append(path, next)
			return path[pos:]
		}
		visited[next] = len(path)
		path = append(path, next)
		current = next
	}
}
