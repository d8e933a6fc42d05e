package reconcile

import (
	"context"

	"finsync/pkg/record"
	"finsync/pkg/remote"
	"finsync/pkg/session"
)

// CreateGoal validates g and stores it for the signed-in user.
// Progress is derived from Current and Target.
func (p *Policy) CreateGoal(ctx context.Context, g record.SavingsGoal) (Result, error) {
	if err := g.Validate(); err != nil {
		return Result{}, err
	}
	id, gen, err := p.current()
	if err != nil {
		return Result{}, err
	}

	g.ID = ""
	g.UserID = id.UserID
	g.CreatedAt = p.now()
	g.UpdatedAt = g.CreatedAt
	g.Recompute()

	if !id.LocalOnly {
		var doc remote.Document
		err := p.call(ctx, p.goals.name, "push", func(ctx context.Context) error {
			data, err := encode(g)
			if err != nil {
				return err
			}
			doc, err = p.remote.Push(ctx, p.ref(id, remote.CollectionSavings), data)
			return err
		})
		if err == nil {
			fillGoal(&g, doc)
			return apply(ctx, p, p.goals, gen, g, StateCommitted)
		}
	}

	g.ID = record.NewLocalID()
	return apply(ctx, p, p.goals, gen, g, StateLocalFallback)
}

// UpdateGoal replaces the goal with g.ID by g. The original creation time is kept.
func (p *Policy) UpdateGoal(ctx context.Context, g record.SavingsGoal) (Result, error) {
	if err := g.Validate(); err != nil {
		return Result{}, err
	}
	id, gen, err := p.current()
	if err != nil {
		return Result{}, err
	}
	existing, ok := p.goals.store.Get(g.ID)
	if !ok {
		return Result{}, ErrRecordNotFound
	}
	return p.updateGoal(ctx, id, gen, existing, g)
}

// AddToGoal adds delta to the goal's current amount. A negative delta
// withdraws, never below zero.
func (p *Policy) AddToGoal(ctx context.Context, goalID string, delta int64) (Result, error) {
	if delta == 0 {
		return Result{}, record.ErrInvalidAmount
	}
	id, gen, err := p.current()
	if err != nil {
		return Result{}, err
	}
	existing, ok := p.goals.store.Get(goalID)
	if !ok {
		return Result{}, ErrRecordNotFound
	}

	g := existing
	g.AddAmount(delta)
	return p.updateGoal(ctx, id, gen, existing, g)
}

// DeleteGoal removes the goal remotely when possible and always removes it locally.
func (p *Policy) DeleteGoal(ctx context.Context, goalID string) (Result, error) {
	id, gen, err := p.current()
	if err != nil {
		return Result{}, err
	}
	if _, ok := p.goals.store.Get(goalID); !ok {
		return Result{}, ErrRecordNotFound
	}

	state := deleteRemote(ctx, p, p.goals, p.ref(id, remote.CollectionSavings), id.LocalOnly, goalID)
	return remove(ctx, p, p.goals, gen, goalID, state)
}

func (p *Policy) updateGoal(ctx context.Context, id session.Identity, gen uint64, existing, g record.SavingsGoal) (Result, error) {
	g.UserID = id.UserID
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = p.now()
	g.Recompute()

	if id.LocalOnly {
		return apply(ctx, p, p.goals, gen, g, StateLocalFallback)
	}

	var doc remote.Document
	err := p.call(ctx, p.goals.name, "update", func(ctx context.Context) error {
		data, err := encode(g)
		if err != nil {
			return err
		}
		doc, err = p.remote.Update(ctx, p.ref(id, remote.CollectionSavings), g.ID, data)
		return err
	})
	if err != nil {
		return apply(ctx, p, p.goals, gen, g, StateLocalFallback)
	}
	g.UpdatedAt = updatedAt(doc, g.UpdatedAt)
	return apply(ctx, p, p.goals, gen, g, StateCommitted)
}
