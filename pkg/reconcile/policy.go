// Package reconcile decides, for every mutation, whether it reaches the
// remote store or stays local, and keeps the in-memory collections, the
// local snapshots and the remote subscriptions of the signed-in user in
// step.
//
// A mutation first attempts the remote store. On success it is applied to
// the in-memory collection and persisted right away, so the subscription
// echo that follows is a no-op. Any remote failure routes the mutation to
// the local fallback instead: it is applied and persisted locally and the
// session is reported offline. Transactions whose attachment is too large
// for the remote store are degraded: the remote copy carries no attachment
// while the local copy keeps it.
//
// Remote calls are never retried. Consistency is restored by the next
// successful mutation or the next subscription snapshot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finsync/pkg/logging"
	"finsync/pkg/metrics"
	"finsync/pkg/persist"
	"finsync/pkg/record"
	"finsync/pkg/remote"
	"finsync/pkg/session"
	"finsync/pkg/store"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

// Errors returned by the policy.
var (
	// ErrNoSession is returned for mutations while no user is signed in.
	ErrNoSession = errors.New("reconcile: no active session")

	// ErrSessionChanged is returned when the user signed out or switched
	// accounts while the mutation was in flight. The mutation is dropped.
	ErrSessionChanged = errors.New("reconcile: session changed during mutation")

	// ErrRecordNotFound is returned when updating or deleting an id that is
	// not in the signed-in user's collection.
	ErrRecordNotFound = errors.New("reconcile: record not found")

	// ErrAttachmentLocalOnly is the notice attached to degraded mutations.
	ErrAttachmentLocalOnly = fmt.Errorf("%w: attachment kept on this device only", remote.ErrPayloadTooLarge)
)

// State is the path a mutation took.
type State int

const (
	// StateAttemptingRemote is the initial state of every mutation.
	StateAttemptingRemote State = iota
	// StateDegrading means the remote copy was written without its attachment.
	StateDegrading
	// StateLocalFallback means the mutation was applied locally only.
	StateLocalFallback
	// StateCommitted means the remote store accepted the mutation as is.
	StateCommitted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAttemptingRemote:
		return "attempting_remote"
	case StateDegrading:
		return "degrading"
	case StateLocalFallback:
		return "local_fallback"
	case StateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Result describes how a mutation settled.
type Result struct {
	// ID of the affected record. Creates that fell back locally get a local id.
	ID    string
	State State

	// Notice is a non-blocking message for the user. It is set to
	// ErrAttachmentLocalOnly on the degrading path.
	Notice error
}

// Config holds configuration for the policy.
type Config struct {
	// AttachmentThresholdBytes is the estimated attachment size above which
	// transactions are degraded without trying the remote store first.
	AttachmentThresholdBytes int `yaml:"attachment_threshold_bytes"`

	// FlushTimeout bounds how long a mutation waits for queued snapshot
	// writes before persisting its own.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// DefaultConfig leaves a safety margin under a 1 MiB document limit.
func DefaultConfig() Config {
	return Config{
		AttachmentThresholdBytes: 1_000_000,
		FlushTimeout:             time.Second,
	}
}

// Option configures optional collaborators of the policy.
type Option func(*Policy)

// WithMetrics sets the metrics collector.
func WithMetrics(mc metrics.MetricsCollector) Option {
	return func(p *Policy) {
		if mc != nil {
			p.metrics = mc
		}
	}
}

// WithMirror persists remote snapshots through m instead of synchronously.
func WithMirror(m *persist.AsyncMirror) Option {
	return func(p *Policy) { p.mirror = m }
}

// WithClock replaces the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTracer sets the tracer used for remote call spans.
// The default is opentracing.GlobalTracer().
func WithTracer(t opentracing.Tracer) Option {
	return func(p *Policy) {
		if t != nil {
			p.tracer = t
		}
	}
}

// Policy owns the session and the in-memory collections of the signed-in user.
// All methods are safe for concurrent use.
type Policy struct {
	remote  remote.Store
	local   *persist.Adapter
	mirror  *persist.AsyncMirror
	config  Config
	metrics metrics.MetricsCollector
	tracer  opentracing.Tracer
	now     func() time.Time
	logger  *logging.Logger

	transactions *collection[record.Transaction]
	goals        *collection[record.SavingsGoal]

	// mu guards the session, its generation and its subscriptions, and
	// serializes every local apply with them.
	mu         sync.RWMutex
	session    session.Session
	generation uint64
	subs       []remote.Subscription

	lmu       sync.Mutex
	listeners []func()
}

// collection ties an in-memory collection to its remote and local homes.
type collection[T record.Identified] struct {
	name    string
	store   *store.Collection[T]
	persist *persist.Collection[T]
}

// New creates a policy over a remote store and a local persistence adapter.
// A nil remote behaves as a store that is never reachable.
func New(rs remote.Store, local *persist.Adapter, config Config, opts ...Option) *Policy {
	if rs == nil {
		rs = remote.UnavailableStore{}
	}
	def := DefaultConfig()
	if config.AttachmentThresholdBytes <= 0 {
		config.AttachmentThresholdBytes = def.AttachmentThresholdBytes
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = def.FlushTimeout
	}

	p := &Policy{
		remote:  rs,
		local:   local,
		config:  config,
		metrics: metrics.NoOpCollector{},
		tracer:  opentracing.GlobalTracer(),
		now:     time.Now,
		logger:  logging.Global().Named("reconcile"),
		transactions: &collection[record.Transaction]{
			name:    remote.CollectionTransactions,
			store:   store.New[record.Transaction](store.Prepend),
			persist: local.Transactions,
		},
		goals: &collection[record.SavingsGoal]{
			name:    remote.CollectionSavings,
			store:   store.New[record.SavingsGoal](store.Append),
			persist: local.Goals,
		},
		session: session.SignedOut(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Transactions returns the signed-in user's transactions, newest first.
func (p *Policy) Transactions() []record.Transaction {
	return p.transactions.store.List()
}

// Goals returns the signed-in user's savings goals in creation order.
func (p *Policy) Goals() []record.SavingsGoal {
	return p.goals.store.List()
}

// Transaction returns the transaction with the given id.
func (p *Policy) Transaction(id string) (record.Transaction, bool) {
	return p.transactions.store.Get(id)
}

// Goal returns the savings goal with the given id.
func (p *Policy) Goal(id string) (record.SavingsGoal, bool) {
	return p.goals.store.Get(id)
}

// Session returns the current session.
func (p *Policy) Session() session.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// SetOnline records connectivity reported by the host. Coming online marks
// an active session as syncing until the next snapshot or mutation.
func (p *Policy) SetOnline(online bool) {
	p.mu.Lock()
	p.session.Online = online
	switch {
	case !online:
		p.session.Status = session.StatusOffline
	case p.session.Active() && !p.session.Identity.LocalOnly:
		p.session.Status = session.StatusSyncing
	}
	p.mu.Unlock()

	p.notify()
}

// OnChange registers fn to be called after the session or either
// collection changed. fn runs without any policy lock held.
func (p *Policy) OnChange(fn func()) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Policy) notify() {
	p.lmu.Lock()
	listeners := append([]func(){}, p.listeners...)
	p.lmu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// current returns the active identity and the generation it belongs to.
func (p *Policy) current() (session.Identity, uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.session.Active() {
		return session.Identity{}, 0, ErrNoSession
	}
	return p.session.Identity, p.generation, nil
}

func (p *Policy) ref(id session.Identity, c string) remote.Ref {
	return remote.Ref{Partition: id.Email, Collection: c}
}

// markLocked records the outcome of a round-trip in the session status.
func (p *Policy) markLocked(state State) {
	if p.session.Identity.LocalOnly {
		p.session.Status = session.StatusOffline
		return
	}
	switch state {
	case StateCommitted, StateDegrading:
		p.session.Online = true
		p.session.Status = session.StatusSynced
	case StateLocalFallback:
		p.session.Status = session.StatusOffline
	}
}

// flushLocked waits for queued snapshot writes so an older snapshot never
// lands after the one about to be saved.
func (p *Policy) flushLocked() {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.Flush(p.config.FlushTimeout); err != nil {
		p.logger.Warn("mirror flush before save", zap.Error(err))
	}
}

// call runs one remote operation inside a span and records its outcome.
func (p *Policy) call(ctx context.Context, coll, op string, fn func(ctx context.Context) error) error {
	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, p.tracer, "remote."+op)
	defer span.Finish()
	span.SetTag("collection", coll)
	span.SetTag("store", p.remote.Name())

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	p.metrics.RecordRemoteOp(coll, op, outcome(err), elapsed)
	if err != nil {
		markError(span, err)
		p.logger.Debug("remote call failed",
			logging.Collection(coll),
			zap.String("operation", op),
			zap.String("error_type", remote.ClassifyError(err)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	}
	return err
}

func outcome(err error) metrics.Outcome {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case remote.IsPayloadTooLarge(err):
		return metrics.OutcomeTooLarge
	case remote.IsUnavailable(err):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}
