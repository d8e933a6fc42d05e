package reconcile

import (
	"context"

	"finsync/pkg/record"
	"finsync/pkg/remote"
	"finsync/pkg/session"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Login signs in identity, replacing any current session. The local
// snapshots are loaded first, so the user's data is available even when
// the remote store is not. Remote subscriptions are then opened for both
// collections; if that fails the session continues offline and Login
// still succeeds.
func (p *Policy) Login(ctx context.Context, identity session.Identity) error {
	if identity.Email == "" {
		return ErrNoSession
	}
	p.Logout()

	key := identity.Key()
	txs, err := p.local.Transactions.Load(ctx, key)
	if err != nil {
		p.logger.Warn("loading local transactions", zap.Error(err))
	}
	goals, err := p.local.Goals.Load(ctx, key)
	if err != nil {
		p.logger.Warn("loading local goals", zap.Error(err))
	}
	for i := range goals {
		goals[i].Recompute()
	}

	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.session = session.Session{
		Identity: identity,
		Online:   !identity.LocalOnly,
		Status:   session.StatusConnecting,
	}
	if identity.LocalOnly {
		p.session.Status = session.StatusOffline
	}
	p.transactions.store.ReplaceAll(txs)
	p.goals.store.ReplaceAll(goals)
	p.mu.Unlock()
	p.notify()

	p.logger.ForUser(key).Info("session started",
		zap.Bool("local_only", identity.LocalOnly),
		zap.Int("transactions", len(txs)),
		zap.Int("goals", len(goals)),
	)

	if identity.LocalOnly {
		return nil
	}

	subs, err := p.subscribe(ctx, identity, gen)

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}
		return nil
	}
	if err != nil {
		p.session.Status = session.StatusOffline
		p.mu.Unlock()
		p.logger.Warn("remote subscriptions unavailable, continuing offline", zap.Error(err))
		p.notify()
		return nil
	}
	p.subs = subs
	if p.session.Status == session.StatusConnecting {
		p.session.Status = session.StatusSyncing
	}
	p.mu.Unlock()
	p.notify()
	return nil
}

// Logout ends the session. Subscriptions stop, queued snapshot writes are
// flushed and both collections are emptied. Snapshots still in flight are
// dropped because they belong to the previous generation.
func (p *Policy) Logout() {
	p.mu.Lock()
	active := p.session.Active()
	p.generation++
	subs := p.subs
	p.subs = nil
	p.session = session.SignedOut()
	p.transactions.store.Clear()
	p.goals.store.Clear()
	p.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if p.mirror != nil {
		if err := p.mirror.Flush(p.config.FlushTimeout); err != nil {
			p.logger.Warn("mirror flush on logout", zap.Error(err))
		}
	}
	if active {
		p.logger.Info("session ended")
		p.notify()
	}
}

// ClearAll deletes every record of the signed-in user, remotely when
// possible and always locally. Remote deletion stops at the first
// unavailability error; the remaining documents are left to a later clear.
func (p *Policy) ClearAll(ctx context.Context) error {
	id, gen, err := p.current()
	if err != nil {
		return err
	}

	if !id.LocalOnly {
		clearRemote(ctx, p, p.transactions, p.ref(id, remote.CollectionTransactions))
		clearRemote(ctx, p, p.goals, p.ref(id, remote.CollectionSavings))
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return ErrSessionChanged
	}
	p.transactions.store.Clear()
	p.goals.store.Clear()
	p.flushLocked()
	if err := p.local.Clear(ctx, id.Key()); err != nil {
		p.logger.Warn("clearing local snapshots", zap.Error(err))
	}
	p.mu.Unlock()

	p.logger.ForUser(id.Key()).Info("all data cleared")
	p.notify()
	return nil
}

func clearRemote[T record.Identified](ctx context.Context, p *Policy, c *collection[T], ref remote.Ref) {
	for _, rec := range c.store.List() {
		err := p.call(ctx, c.name, "delete", func(ctx context.Context) error {
			return p.remote.Delete(ctx, ref, rec.RecordID())
		})
		if remote.IsUnavailable(err) {
			return
		}
	}
}

// subscribe opens both collection feeds. On failure any feed that did
// open is closed again.
func (p *Policy) subscribe(ctx context.Context, identity session.Identity, gen uint64) ([]remote.Subscription, error) {
	var txSub, goalSub remote.Subscription

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.call(gctx, p.transactions.name, "subscribe", func(ctx context.Context) error {
			s, err := p.remote.Subscribe(ctx, p.ref(identity, remote.CollectionTransactions), p.onTransactions(gen))
			txSub = s
			return err
		})
	})
	g.Go(func() error {
		return p.call(gctx, p.goals.name, "subscribe", func(ctx context.Context) error {
			s, err := p.remote.Subscribe(ctx, p.ref(identity, remote.CollectionSavings), p.onGoals(gen))
			goalSub = s
			return err
		})
	})

	err := g.Wait()

	var subs []remote.Subscription
	for _, s := range []remote.Subscription{txSub, goalSub} {
		if s != nil {
			subs = append(subs, s)
		}
	}
	if err != nil {
		for _, s := range subs {
			s.Unsubscribe()
		}
		return nil, err
	}
	return subs, nil
}

// onTransactions applies transaction snapshots of generation gen.
func (p *Policy) onTransactions(gen uint64) remote.SnapshotFunc {
	return func(docs []remote.Document) {
		txs := decode(docs, p.logger, fillTransaction)

		p.mu.Lock()
		if gen != p.generation {
			p.mu.Unlock()
			return
		}
		ownTransactions(txs, p.session.Identity.UserID)
		txs = reattach(txs, p.transactions.store.List())
		changed := p.transactions.store.ReplaceAll(txs)
		if changed {
			mirror(p, p.transactions, txs)
		}
		synced := p.markSnapshotLocked()
		p.mu.Unlock()

		p.metrics.RecordSnapshot(p.transactions.name, changed)
		if changed || synced {
			p.notify()
		}
	}
}

// onGoals applies savings goal snapshots of generation gen.
func (p *Policy) onGoals(gen uint64) remote.SnapshotFunc {
	return func(docs []remote.Document) {
		goals := decode(docs, p.logger, fillGoal)

		p.mu.Lock()
		if gen != p.generation {
			p.mu.Unlock()
			return
		}
		ownGoals(goals, p.session.Identity.UserID)
		changed := p.goals.store.ReplaceAll(goals)
		if changed {
			mirror(p, p.goals, goals)
		}
		synced := p.markSnapshotLocked()
		p.mu.Unlock()

		p.metrics.RecordSnapshot(p.goals.name, changed)
		if changed || synced {
			p.notify()
		}
	}
}

// markSnapshotLocked reports whether the snapshot changed the session status.
func (p *Policy) markSnapshotLocked() bool {
	changed := !p.session.Online || p.session.Status != session.StatusSynced
	p.session.Online = true
	p.session.Status = session.StatusSynced
	return changed
}
