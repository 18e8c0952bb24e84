package actions

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Subscriber is notified after every dispatch, outside the state lock.
type Subscriber func(state *State, action Action)

// Handler mutates state in-place in response to one action kind. Handlers
// must never perform IO or dispatch further actions.
type Handler func(state *State, action Action)

// Store is the single, thread-safe dispatch point for all state
// transitions in one process. Direct Dispatch is safe from any
// goroutine; Bridge provides the teacher's single-queued-hop delivery
// model for callers that want dispatch serialized onto one goroutine.
type Store struct {
	mu          sync.Mutex
	state       *State
	handlers    map[string][]Handler
	subscribers map[int]Subscriber
	nextSubID   int
	log         *zap.SugaredLogger
}

// NewStore constructs a Store with the default handler set already
// registered.
func NewStore(log *zap.SugaredLogger) *Store {
	s := &Store{
		state:       NewState(),
		handlers:    make(map[string][]Handler),
		subscribers: make(map[int]Subscriber),
		log:         log,
	}
	registerDefaultHandlers(s)
	return s
}

// On registers a handler for one action kind, keyed by its actionKind()
// string so a ScanCompleted dispatch only runs ScanCompleted handlers.
func (s *Store) On(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], h)
}

// Subscribe registers fn to run after every dispatch. The returned
// Unsubscribe closure is the explicit lifecycle Go substitutes for the
// teacher's weakref-pruned subscription list — there is no GC finalizer
// equivalent, so a caller that can stop observing (a closed panel, a
// canceled request) MUST call it.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// SubscribeContext is Subscribe plus automatic unsubscription when ctx is
// canceled, for callers that already have a request-scoped context and
// would otherwise forget to call Unsubscribe.
func (s *Store) SubscribeContext(ctx context.Context, fn Subscriber) {
	unsub := s.Subscribe(fn)
	go func() {
		<-ctx.Done()
		unsub()
	}()
}

// State returns the current state. Callers must treat it as read-only;
// all mutation goes through Dispatch.
func (s *Store) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MakeMeta builds an action's provenance tag against the current project.
func (s *Store) MakeMeta(source string) Meta {
	s.mu.Lock()
	projectID := s.state.ProjectID
	s.mu.Unlock()
	return Meta{Source: source, ProjectID: projectID, TS: time.Now()}
}

// Dispatch applies action to state and notifies subscribers. Safe to call
// concurrently; handlers run under the lock (must not block), subscriber
// notification happens after the lock is released so a slow subscriber
// cannot stall a concurrent dispatch.
func (s *Store) Dispatch(action Action) {
	kind := action.actionKind()

	s.mu.Lock()
	before := snapshotVersions(s.state)
	for _, h := range s.handlers[kind] {
		h(s.state, action)
	}
	after := snapshotVersions(s.state)
	state := s.state
	live := make([]Subscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		live = append(live, fn)
	}
	s.mu.Unlock()

	if s.log != nil {
		s.logDispatch(kind, before, after, len(live))
	}

	for _, fn := range live {
		fn(state, action)
	}
}

func (s *Store) logDispatch(kind string, before, after versions, nSubscribers int) {
	fields := []interface{}{"subscribers", nSubscribers}
	if before != after {
		fields = append(fields,
			"media_v", after.MediaV, "tags_v", after.TagsV, "people_v", after.PeopleV,
			"faces_v", after.FacesV, "duplicates_v", after.DuplicatesV,
			"embeddings_v", after.EmbeddingsV, "stacks_v", after.StacksV,
			"videos_v", after.VideosV, "groups_v", after.GroupsV,
			"settings_v", after.SettingsV, "jobs_v", after.JobsV, "ui_epoch", after.UIEpoch,
		)
	}
	s.log.Debugw("dispatch "+kind, fields...)
}

// Bridge serializes dispatch onto a single goroutine, the Go translation
// of the teacher's QueuedConnection hop from worker threads to the GUI
// thread: workers call DispatchAsync from any goroutine, delivery to the
// Store always happens on Bridge's own loop goroutine.
type Bridge struct {
	store  *Store
	queue  chan Action
	done   chan struct{}
}

// NewBridge starts the bridge's delivery goroutine. The queue holds up to
// 256 actions, so a burst of that size does not block the reporting
// goroutine; once it is full, DispatchAsync blocks until space frees up.
func NewBridge(store *Store) *Bridge {
	b := &Bridge{store: store, queue: make(chan Action, 256), done: make(chan struct{})}
	go b.run()
	return b
}

func (b *Bridge) run() {
	for {
		select {
		case a, ok := <-b.queue:
			if !ok {
				close(b.done)
				return
			}
			b.store.Dispatch(a)
		}
	}
}

// DispatchAsync enqueues action for delivery on the bridge's loop
// goroutine. Safe from any goroutine.
func (b *Bridge) DispatchAsync(action Action) {
	b.queue <- action
}

// Close stops accepting new actions and waits for the queue to drain.
func (b *Bridge) Close() {
	close(b.queue)
	<-b.done
}
