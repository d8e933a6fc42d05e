package reconcile

import (
	"context"

	"finsync/pkg/logging"
	"finsync/pkg/record"
	"finsync/pkg/remote"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"
)

// apply upserts rec and persists the collection, unless the session that
// issued the mutation has ended in the meantime.
func apply[T record.Identified](ctx context.Context, p *Policy, c *collection[T], gen uint64, rec T, state State) (Result, error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return Result{}, ErrSessionChanged
	}
	c.store.Upsert(rec)
	save(ctx, p, c)
	p.markLocked(state)
	p.mu.Unlock()

	if state == StateLocalFallback {
		p.metrics.RecordFallback(c.name, "upsert")
	}
	p.notify()
	return Result{ID: rec.RecordID(), State: state}, nil
}

// remove deletes id from the collection and persists it.
func remove[T record.Identified](ctx context.Context, p *Policy, c *collection[T], gen uint64, id string, state State) (Result, error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return Result{}, ErrSessionChanged
	}
	c.store.Remove(id)
	save(ctx, p, c)
	p.markLocked(state)
	p.mu.Unlock()

	if state == StateLocalFallback {
		p.metrics.RecordFallback(c.name, "delete")
	}
	p.notify()
	return Result{ID: id, State: state}, nil
}

// save writes the whole collection synchronously. Failures are logged by
// the persistence layer and never undo the in-memory change. Caller holds p.mu.
func save[T record.Identified](ctx context.Context, p *Policy, c *collection[T]) {
	p.flushLocked()
	key := p.session.Identity.Key()
	if err := c.persist.Save(ctx, key, c.store.List()); err != nil {
		p.logger.Warn("local save failed, keeping in-memory state",
			logging.Collection(c.name),
			zap.Error(err),
		)
	}
}

// mirror hands a snapshot to the async mirror, or saves it directly when
// no mirror is configured. Caller holds p.mu.
func mirror[T record.Identified](p *Policy, c *collection[T], records []T) {
	key := p.session.Identity.Key()
	ctx := context.Background()

	var err error
	if p.mirror != nil {
		err = c.persist.SaveAsync(ctx, p.mirror, key, records)
	} else {
		err = c.persist.Save(ctx, key, records)
	}
	if err != nil {
		p.logger.Warn("snapshot not persisted", logging.Collection(c.name), zap.Error(err))
	}
}

// deleteRemote removes id remotely and returns the state the local removal settles in.
func deleteRemote[T record.Identified](ctx context.Context, p *Policy, c *collection[T], ref remote.Ref, localOnly bool, id string) State {
	if localOnly {
		return StateLocalFallback
	}
	err := p.call(ctx, c.name, "delete", func(ctx context.Context) error {
		return p.remote.Delete(ctx, ref, id)
	})
	if err != nil {
		return StateLocalFallback
	}
	return StateCommitted
}

func markError(span opentracing.Span, err error) {
	ext.Error.Set(span, true)
	span.SetTag("error.type", remote.ClassifyError(err))
	span.LogKV("event", "error", "message", err.Error())
}
