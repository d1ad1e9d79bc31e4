package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/tgconvo/engine"
	"github.com/hrygo/tgconvo/internal/cursor"
	"github.com/hrygo/tgconvo/storage"
)

// Options configures a Manager.
type Options[C any] struct {
	// Storage backs the Versioned Storage Facade. A nil Storage defaults to
	// an in-memory facade, matching spec.md §4.G's default backend.
	Storage *storage.Facade
	// Metrics overrides the Prometheus collectors the manager updates. Nil
	// uses an unregistered set (metrics are tracked but never scraped).
	Metrics *metrics
	OnEnter func(name string)
	OnExit  func(name string)
}

// Manager is the conversation manager middleware (component F): it owns the
// registry, drives the resume procedure for every registered conversation
// against each incoming event, and persists the result through the
// Versioned Storage Facade.
type Manager[C any] struct {
	registry *Registry[C]
	storage  *storage.Facade
	metrics  *metrics
	onEnter  func(name string)
	onExit   func(name string)
}

func NewManager[C any](registry *Registry[C], opts Options[C]) *Manager[C] {
	st := opts.Storage
	if st == nil {
		st = storage.NewFacade(storage.NewMemoryBackend(), 0)
	}
	m := opts.Metrics
	if m == nil {
		m = newMetrics("tgconvo")
	}
	return &Manager[C]{registry: registry, storage: st, metrics: m, onEnter: opts.OnEnter, onExit: opts.OnExit}
}

// Next is the downstream handler invoked once every registered conversation
// has had a chance to resume against the incoming event and none of the
// stored instances consumed it. active is the
// control surface (enter/exit/exitAll/exitOne/active) scoped to this chat.
type Next[C any] func(ctx context.Context, active *Active[C]) error

// Handle runs one middleware invocation for chatID: refuses double or
// recursive install, loads persisted data, resumes every registered
// conversation's stored instances against event, invokes next with the
// control surface unless a stored instance consumed the event, then persists
// whatever next and the resume pass left behind.
func (m *Manager[C]) Handle(ctx context.Context, chatID string, event any, api APIDriver, makeCtx ContextFactory[C], next Next[C]) error {
	if ctx.Value(markerRecursion) != nil {
		return ErrRecursiveInstall
	}
	if ctx.Value(markerInstalled) != nil {
		return ErrAlreadyInstalled
	}

	runID := uuid.New()
	log := slog.With("run_id", runID, "chat_id", chatID)

	data, found, err := m.storage.Read(ctx, chatID)
	if err != nil {
		return errors.Wrap(err, "conversation: read persisted data")
	}
	if !found {
		data = storage.Data{}
	}
	loadedEmpty := data.Empty()

	active := &Active[C]{manager: m, chatID: chatID, event: event, api: api, makeCtx: makeCtx, data: cloneData(data)}

	// Conversation builders run against a context tagged with markerRecursion,
	// not markerInstalled: a builder that itself calls Manager.Handle (directly
	// or through something it invokes) is a recursive re-entry into the
	// replay engine, a distinct usage error from a next handler chaining into
	// another Handle call.
	resumeCtx := context.WithValue(ctx, markerRecursion, true)
	consumed, err := active.resumeRegistered(resumeCtx)
	if err != nil {
		log.Error("conversation resume failed", "error", err)
		return err
	}

	innerCtx := context.WithValue(ctx, markerInstalled, true)

	// An event consumed by a stored instance does not continue to next.
	var runErr error
	if !consumed {
		runErr = next(innerCtx, active)
	}

	active.mu.Lock()
	active.complete = true
	finalData := cloneData(active.data)
	active.mu.Unlock()

	if persistErr := m.persist(ctx, chatID, finalData, loadedEmpty); persistErr != nil {
		log.Error("conversation persist failed", "error", persistErr)
		if runErr == nil {
			return persistErr
		}
	}
	return runErr
}

func (m *Manager[C]) persist(ctx context.Context, chatID string, data storage.Data, loadedEmpty bool) error {
	// Empty-array prefixes left by buggy enter calls that resolved out of
	// order are pruned here rather than trusted from upstream mutation.
	pruned := storage.Data{}
	for name, instances := range data {
		if len(instances) == 0 {
			continue
		}
		pruned[name] = instances
	}

	for _, name := range m.registry.names() {
		m.metrics.instancesActive.WithLabelValues(name).Set(float64(len(pruned[name])))
	}

	if pruned.Empty() {
		if loadedEmpty {
			return nil
		}
		return m.storage.Delete(ctx, chatID)
	}
	return m.storage.Write(ctx, chatID, pruned)
}

// Active is the per-update control surface exposed to downstream middleware
// (ctx.conversation in the original framework's terms): enter, the three
// exit variants, and active-instance counts, all scoped to one chat.
type Active[C any] struct {
	manager *Manager[C]
	chatID  string
	event   any
	api     APIDriver
	makeCtx ContextFactory[C]

	mu       sync.Mutex
	data     storage.Data
	complete bool
}

func (a *Active[C]) requireNotComplete() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.complete {
		return ErrUsedAfterComplete
	}
	return nil
}

// Enter validates name is registered, refuses to start a second non-parallel
// conversation in this chat, creates a fresh instance, and immediately
// drives it with the current event through the same resume procedure used
// for already-stored instances.
func (a *Active[C]) Enter(ctx context.Context, name string, args ...any) error {
	if err := a.requireNotComplete(); err != nil {
		return err
	}
	def, ok := a.manager.registry.lookup(name)
	if !ok {
		return errors.Wrapf(ErrUnknownConversation, "name %q", name)
	}

	a.mu.Lock()
	if !def.Parallel && a.hasAnyInstanceLocked() {
		a.mu.Unlock()
		return errors.Wrapf(ErrAnotherConversationActive, "entering %q", name)
	}
	a.mu.Unlock()

	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "conversation: encode enter args")
	}

	state, firstIdx := engine.Open("wait")
	eng := engine.New(adaptBuilder(def.Builder, a.makeCtx, a.api))
	inst := storage.Instance{
		Args:       string(encodedArgs),
		Replay:     toReplay(state),
		Interrupts: []int{firstIdx},
		ArmedAt:    time.Now().UnixMilli(),
	}

	// Tag the context handed to the builder with markerRecursion, the same as
	// resumeRegistered does for already-stored instances: a builder entered
	// here that turns around and calls Manager.Handle is recursing into the
	// engine from inside its own execution, independent of whatever
	// markerInstalled state the calling next handler's context carries.
	resumeCtx := context.WithValue(ctx, markerRecursion, true)
	res := resumeInstance(resumeCtx, eng, inst, a.event, def.MaxWait)
	switch res.kind {
	case resumeError:
		return res.err
	case resumeComplete:
		a.fireOnExit(name, 1)
	case resumeRetain:
		a.appendInstance(name, res.instance)
	}
	if a.manager.onEnter != nil {
		a.manager.onEnter(name)
	}
	return nil
}

// Exit removes every stored instance of name.
func (a *Active[C]) Exit(name string) error {
	if err := a.requireNotComplete(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := len(a.data[name])
	delete(a.data, name)
	a.fireOnExitLocked(name, removed)
	return nil
}

// ExitAll removes every stored instance of every conversation in this chat.
func (a *Active[C]) ExitAll() error {
	if err := a.requireNotComplete(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, instances := range a.data {
		a.fireOnExitLocked(name, len(instances))
	}
	a.data = storage.Data{}
	return nil
}

// ExitOne removes a single instance of name by its position in the stored
// list.
func (a *Active[C]) ExitOne(name string, index int) error {
	if err := a.requireNotComplete(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	instances := a.data[name]
	if index < 0 || index >= len(instances) {
		return errors.Errorf("conversation: exitOne index %d out of range for %q (%d instances)", index, name, len(instances))
	}
	next := append(append([]storage.Instance{}, instances[:index]...), instances[index+1:]...)
	if len(next) == 0 {
		delete(a.data, name)
	} else {
		a.data[name] = next
	}
	a.fireOnExitLocked(name, 1)
	return nil
}

// Event returns the raw incoming event this invocation is handling, exactly
// as passed to Manager.Handle. A next handler deciding which conversation
// to enter needs it — the event has already been offered to the stored
// instances by resumeRegistered by the time next runs, so it has no other
// way to reach it short of re-parsing the original request.
func (a *Active[C]) Event() any { return a.event }

// ActiveCount reports how many stored instances exist for name, or the
// total across every conversation if name is empty.
func (a *Active[C]) ActiveCount(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if name == "" {
		total := 0
		for _, instances := range a.data {
			total += len(instances)
		}
		return total
	}
	return len(a.data[name])
}

func (a *Active[C]) fireOnExit(name string, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fireOnExitLocked(name, count)
}

func (a *Active[C]) fireOnExitLocked(name string, count int) {
	if a.manager.onExit == nil {
		return
	}
	for i := 0; i < count; i++ {
		a.manager.onExit(name)
	}
}

func (a *Active[C]) hasAnyInstanceLocked() bool {
	for _, instances := range a.data {
		if len(instances) > 0 {
			return true
		}
	}
	return false
}

func (a *Active[C]) setInstances(name string, instances []storage.Instance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(instances) == 0 {
		delete(a.data, name)
		return
	}
	a.data[name] = instances
}

func (a *Active[C]) appendInstance(name string, inst storage.Instance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[name] = append(a.data[name], inst)
}

// resumeRegistered iterates every registered conversation name that has
// stored instances and resumes them against the incoming event, stopping
// once one conversation reports the event was consumed.
func (a *Active[C]) resumeRegistered(ctx context.Context) (bool, error) {
	for _, name := range a.manager.registry.names() {
		def, _ := a.manager.registry.lookup(name)

		a.mu.Lock()
		instances := append([]storage.Instance(nil), a.data[name]...)
		a.mu.Unlock()
		if len(instances) == 0 {
			continue
		}

		consumed, err := a.resumeName(ctx, def, instances)
		if err != nil {
			return false, err
		}
		if consumed {
			return true, nil
		}
	}
	return false, nil
}

func (a *Active[C]) resumeName(ctx context.Context, def Definition[C], instances []storage.Instance) (bool, error) {
	eng := engine.New(adaptBuilder(def.Builder, a.makeCtx, a.api))

	if !def.Parallel {
		return a.resumeSequential(ctx, eng, def.Name, def.MaxWait, instances)
	}
	return a.resumeParallel(ctx, eng, def.Name, def.MaxWait, instances)
}

func (a *Active[C]) resumeSequential(ctx context.Context, eng *engine.Engine, name string, maxWait time.Duration, instances []storage.Instance) (bool, error) {
	remaining := make([]storage.Instance, 0, len(instances))
	consumed := false

	for _, inst := range instances {
		if consumed {
			remaining = append(remaining, inst)
			continue
		}
		res := resumeInstance(ctx, eng, inst, a.event, maxWait)
		a.recordOutcome(name, res)
		if res.kind == resumeError {
			return false, res.err
		}
		if res.kind == resumeRetain {
			remaining = append(remaining, res.instance)
		} else {
			a.fireOnExit(name, 1)
		}
		if !res.next {
			consumed = true
		}
	}

	a.setInstances(name, remaining)
	return consumed, nil
}

// resumeParallel resumes every instance of a parallel conversation
// concurrently, so completing, erroring, or halting one instance never
// mutates another's replay state (spec.md §8 "Parallel isolation").
func (a *Active[C]) resumeParallel(ctx context.Context, eng *engine.Engine, name string, maxWait time.Duration, instances []storage.Instance) (bool, error) {
	results := make([]resumeResult, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	for i, inst := range instances {
		i, inst := i, inst
		g.Go(func() error {
			results[i] = resumeInstance(gctx, eng, inst, a.event, maxWait)
			return nil
		})
	}
	_ = g.Wait()

	remaining := make([]storage.Instance, 0, len(instances))
	consumed := false
	for _, res := range results {
		a.recordOutcome(name, res)
		if res.kind == resumeError {
			return false, res.err
		}
		if res.kind == resumeRetain {
			remaining = append(remaining, res.instance)
		} else {
			a.fireOnExit(name, 1)
		}
		if !res.next {
			consumed = true
		}
	}

	a.setInstances(name, remaining)
	return consumed, nil
}

func (a *Active[C]) recordOutcome(name string, res resumeResult) {
	a.manager.metrics.resumes.WithLabelValues(name).Inc()
	switch res.kind {
	case resumeError:
		if errors.Is(res.err, cursor.ErrBadReplay) {
			a.manager.metrics.badReplayErrors.Inc()
		}
		a.manager.metrics.outcomes.WithLabelValues(name, "error").Inc()
	case resumeComplete:
		if res.timedOut {
			a.manager.metrics.outcomes.WithLabelValues(name, "timeout").Inc()
		} else {
			a.manager.metrics.outcomes.WithLabelValues(name, "complete").Inc()
		}
	case resumeRetain:
		a.manager.metrics.outcomes.WithLabelValues(name, "retained").Inc()
	}
}

func cloneData(d storage.Data) storage.Data {
	out := make(storage.Data, len(d))
	for k, v := range d {
		cp := make([]storage.Instance, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
