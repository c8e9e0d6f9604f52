// ABOUTME: Dual-write persister: primary writes apply at once, index mirroring waits for flush
// ABOUTME: Each session moves through buffering, flushing and idle on its own

package buffered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

// Name is the registry name the buffered persister is usually registered under.
const Name = "indexing_persister"

// ErrInvalidState is returned for operations the current state does not allow.
var ErrInvalidState = errors.New("invalid buffered persister state")

// State is the phase of a session. A closed session is Idle.
type State int32

const (
	Idle State = iota
	Buffering
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Buffering:
		return "buffering"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Op names a recorded mutation.
type Op string

const (
	OpSave   Op = "save"
	OpDelete Op = "delete"
	OpWipe   Op = "wipe"
)

// Mutation is one primary write waiting to be mirrored. Resource is nil for
// OpWipe.
type Mutation struct {
	Op       Op
	Resource *resource.Resource
}

func (m Mutation) String() string {
	if m.Resource == nil {
		return string(m.Op)
	}
	return fmt.Sprintf("%s %s", m.Op, m.Resource.ID)
}

// FlushPropagationError reports an index mirror that failed partway. The
// primary writes of every mutation, failed or pending, are already committed.
type FlushPropagationError struct {
	Applied []Mutation
	Pending []Mutation
	Failed  Mutation
	Err     error
}

func (e *FlushPropagationError) Error() string {
	return fmt.Sprintf("index propagation failed at %s (%d applied, %d pending): %v",
		e.Failed, len(e.Applied), len(e.Pending), e.Err)
}

func (e *FlushPropagationError) Unwrap() error { return e.Err }

// Committed reports whether the primary store kept the writes. It always
// does; nothing is compensated.
func (e *FlushPropagationError) Committed() bool { return true }

// FlushObserver is implemented by observers that also count mirrored
// mutations.
type FlushObserver interface {
	ObserveFlush(applied, failed int)
}

// Persister wraps a primary adapter and an index adapter. Sessions are
// independent: concurrent sessions write the primary as they go and mirror
// to the index at their own flush, so the last writer wins in both stores.
type Persister struct {
	primary persistence.MetadataAdapter
	index   persistence.MetadataAdapter
	opts    persistence.Options

	reindexing sync.Mutex
}

var _ persistence.MetadataAdapter = (*Persister)(nil)

func New(primary, index persistence.MetadataAdapter, opts ...persistence.Option) *Persister {
	return &Persister{
		primary: primary,
		index:   index,
		opts:    persistence.NewOptions(opts...),
	}
}

// Begin opens a new buffering session.
func (p *Persister) Begin() *Session {
	p.opts.Logger.Debug().Msg("buffering session started")
	return &Session{p: p, state: Buffering}
}

// BufferInto runs fn in a session and flushes it when fn succeeds. When fn
// fails the session is abandoned; its primary writes stay.
func (p *Persister) BufferInto(ctx context.Context, fn func(s *Session) error) error {
	s := p.Begin()
	if err := fn(s); err != nil {
		s.Abandon()
		return err
	}
	return s.Flush(ctx)
}

// Reindex replaces the index contents with every primary resource and
// returns how many were mirrored. Only one reindex runs at a time.
func (p *Persister) Reindex(ctx context.Context) (n int, err error) {
	defer p.opts.Track(Name, "reindex", time.Now(), &err)
	if !p.reindexing.TryLock() {
		return 0, fmt.Errorf("%w: reindex already running", ErrInvalidState)
	}
	defer p.reindexing.Unlock()

	all, err := p.primary.QueryService().FindAll(ctx)
	if err != nil {
		return 0, err
	}
	idx := p.index.Persister()
	if err := idx.Wipe(ctx); err != nil {
		return 0, fmt.Errorf("wipe index: %w", err)
	}
	saved, err := idx.SaveAll(persistence.Mirroring(ctx), all)
	if err != nil {
		return len(saved), fmt.Errorf("reindex after %d of %d: %w", len(saved), len(all), err)
	}
	p.opts.Logger.Info().Int("resources", len(saved)).Msg("index rebuilt")
	return len(saved), nil
}

// Persister returns a persister that wraps every call in its own session.
func (p *Persister) Persister() persistence.Persister { return implicit{p} }

// QueryService reads from the primary adapter.
func (p *Persister) QueryService() persistence.QueryService { return p.primary.QueryService() }

// Session records primary writes until Flush or Abandon.
type Session struct {
	p *Persister

	mu      sync.Mutex
	pending []Mutation
	state   State
}

var _ persistence.Persister = (*Session)(nil)

// State returns the phase of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) check() error {
	if s.state != Buffering {
		return fmt.Errorf("%w: session %s", ErrInvalidState, s.state)
	}
	return nil
}

func (s *Session) record(m Mutation) {
	s.pending = append(s.pending, m)
}

func (s *Session) Save(ctx context.Context, r *resource.Resource) (*resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	saved, err := s.p.primary.Persister().Save(ctx, r)
	if err != nil {
		return nil, err
	}
	s.record(Mutation{Op: OpSave, Resource: saved.Clone()})
	return saved, nil
}

func (s *Session) Delete(ctx context.Context, r *resource.Resource) (*resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	deleted, err := s.p.primary.Persister().Delete(ctx, r)
	if err != nil {
		return nil, err
	}
	s.record(Mutation{Op: OpDelete, Resource: deleted.Clone()})
	return deleted, nil
}

func (s *Session) SaveAll(ctx context.Context, rs []*resource.Resource) ([]*resource.Resource, error) {
	return persistence.SaveAll(ctx, s, rs)
}

func (s *Session) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if err := s.p.primary.Persister().Wipe(ctx); err != nil {
		return err
	}
	s.record(Mutation{Op: OpWipe})
	return nil
}

// Pending returns the mutations recorded so far.
func (s *Session) Pending() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mutation(nil), s.pending...)
}

// Flush mirrors the recorded mutations to the index in issue order and
// closes the session. A session flushes at most once.
func (s *Session) Flush(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.state = Flushing
	defer func() { s.state = Idle }()

	p := s.p
	defer p.opts.Track(Name, "flush", time.Now(), &err)

	idx := p.index.Persister()
	mctx := persistence.Mirroring(ctx)
	for i, m := range s.pending {
		if err := mirror(mctx, idx, m); err != nil {
			p.observeFlush(i, 1)
			return &FlushPropagationError{
				Applied: s.pending[:i:i],
				Pending: append([]Mutation(nil), s.pending[i+1:]...),
				Failed:  m,
				Err:     err,
			}
		}
	}
	p.observeFlush(len(s.pending), 0)
	p.opts.Logger.Debug().Int("mutations", len(s.pending)).Msg("buffering session flushed")
	return nil
}

// Abandon closes the session without mirroring. Primary writes stay.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Buffering {
		return
	}
	s.state = Idle
	s.p.opts.Logger.Debug().Int("mutations", len(s.pending)).Msg("buffering session abandoned")
}

func (p *Persister) observeFlush(applied, failed int) {
	if fo, ok := p.opts.Observer.(FlushObserver); ok {
		fo.ObserveFlush(applied, failed)
	}
}

func mirror(ctx context.Context, idx persistence.Persister, m Mutation) error {
	switch m.Op {
	case OpSave:
		_, err := idx.Save(ctx, m.Resource)
		return err
	case OpDelete:
		_, err := idx.Delete(ctx, m.Resource)
		return err
	case OpWipe:
		return idx.Wipe(ctx)
	}
	return fmt.Errorf("unknown mutation %q", m.Op)
}

// implicit runs each call as a one-operation session.
type implicit struct {
	p *Persister
}

func (i implicit) Save(ctx context.Context, r *resource.Resource) (out *resource.Resource, err error) {
	err = i.p.BufferInto(ctx, func(s *Session) error {
		out, err = s.Save(ctx, r)
		return err
	})
	return out, err
}

func (i implicit) Delete(ctx context.Context, r *resource.Resource) (out *resource.Resource, err error) {
	err = i.p.BufferInto(ctx, func(s *Session) error {
		out, err = s.Delete(ctx, r)
		return err
	})
	return out, err
}

func (i implicit) SaveAll(ctx context.Context, rs []*resource.Resource) (out []*resource.Resource, err error) {
	err = i.p.BufferInto(ctx, func(s *Session) error {
		out, err = s.SaveAll(ctx, rs)
		return err
	})
	return out, err
}

func (i implicit) Wipe(ctx context.Context) error {
	return i.p.BufferInto(ctx, func(s *Session) error {
		return s.Wipe(ctx)
	})
}
