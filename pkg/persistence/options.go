package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nainya/folio/pkg/resource"
)

// Observer receives one call per backend operation. internal/metrics
// implements it.
type Observer interface {
	ObserveOperation(backend, op string, d time.Duration, err error)
}

// Options are shared by every backend constructor.
type Options struct {
	Logger   zerolog.Logger
	Observer Observer
	Now      func() time.Time
	NewID    func() resource.ID
}

type Option func(*Options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithIDGenerator overrides id assignment.
func WithIDGenerator(gen func() resource.ID) Option {
	return func(o *Options) { o.NewID = gen }
}

// NewID returns a random UUIDv4 id.
func NewID() resource.ID {
	return resource.ID(uuid.NewString())
}

func NewOptions(opts ...Option) Options {
	o := Options{
		Logger: zerolog.Nop(),
		Now:    time.Now,
		NewID:  NewID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type mirrorKey struct{}

// Mirroring marks ctx as copying resources that another backend already
// saved. Saves under such a context keep the timestamps the resource carries.
func Mirroring(ctx context.Context) context.Context {
	return context.WithValue(ctx, mirrorKey{}, true)
}

// IsMirroring reports whether ctx was marked by Mirroring.
func IsMirroring(ctx context.Context) bool {
	v, _ := ctx.Value(mirrorKey{}).(bool)
	return v
}

// Prepare returns the copy of r a backend should store: an id is assigned
// when missing, createdAt (from an existing record) is kept, and the
// timestamps are refreshed. When mirroring, a resource that already has
// timestamps is stored with them unchanged.
func (o Options) Prepare(ctx context.Context, r *resource.Resource, createdAt time.Time) *resource.Resource {
	out := r.Clone()
	if out.ID.IsZero() {
		out.ID = o.NewID()
	}
	if IsMirroring(ctx) && !out.UpdatedAt.IsZero() {
		if out.CreatedAt.IsZero() {
			out.CreatedAt = out.UpdatedAt
		}
		return out
	}
	if !createdAt.IsZero() {
		out.CreatedAt = createdAt
	}
	out.Stamp(o.Now())
	return out
}

// Track logs and reports one backend operation. Use it with defer:
//
//	defer o.Track("index", "save", time.Now(), &err)
func (o Options) Track(backend, op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	d := time.Since(start)
	if o.Observer != nil {
		o.Observer.ObserveOperation(backend, op, d, err)
	}

	event := o.Logger.Debug()
	switch {
	case errors.Is(err, ErrObjectNotFound):
		event = event.Err(err)
	case err != nil:
		event = o.Logger.Warn().Err(err)
	}
	event.Str("backend", backend).
		Str("operation", op).
		Dur("duration", d).
		Msg("persistence operation")
}
