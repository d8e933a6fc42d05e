package reconcile

import (
	"context"
	"time"

	"finsync/pkg/attachment"
	"finsync/pkg/record"
	"finsync/pkg/remote"
	"finsync/pkg/session"

	"go.uber.org/zap"
)

// attachmentField is the JSON name of Transaction.Attachment.
const attachmentField = "image"

// CreateTransaction validates tx and stores it for the signed-in user.
// The returned Result carries the id the record ended up with.
func (p *Policy) CreateTransaction(ctx context.Context, tx record.Transaction) (Result, error) {
	if err := tx.Validate(); err != nil {
		return Result{}, err
	}
	id, gen, err := p.current()
	if err != nil {
		return Result{}, err
	}

	tx.ID = ""
	tx.UserID = id.UserID
	tx.CreatedAt = p.now()
	tx.UpdatedAt = tx.CreatedAt

	if id.LocalOnly {
		return p.createTransactionLocally(ctx, gen, tx)
	}
	if p.oversized(tx) {
		return p.createTransactionDegraded(ctx, id, gen, tx)
	}

	doc, err := p.pushTransaction(ctx, id, tx)
	switch {
	case err == nil:
		return apply(ctx, p, p.transactions, gen, stamped(tx, doc), StateCommitted)
	case remote.IsPayloadTooLarge(err) && tx.HasAttachment():
		return p.createTransactionDegraded(ctx, id, gen, tx)
	default:
		return p.createTransactionLocally(ctx, gen, tx)
	}
}

// UpdateTransaction replaces the transaction with tx.ID by tx.
// The original creation time is kept.
func (p *Policy) UpdateTransaction(ctx context.Context, tx record.Transaction) (Result, error) {
	if err := tx.Validate(); err != nil {
		return Result{}, err
	}
	id, gen, err := p.current()
	if err != nil {
		return Result{}, err
	}
	existing, ok := p.transactions.store.Get(tx.ID)
	if !ok {
		return Result{}, ErrRecordNotFound
	}

	tx.UserID = id.UserID
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = p.now()

	if id.LocalOnly {
		return apply(ctx, p, p.transactions, gen, tx, StateLocalFallback)
	}
	if p.oversized(tx) {
		return p.updateTransactionDegraded(ctx, id, gen, tx)
	}

	doc, err := p.updateTransactionRemote(ctx, id, tx)
	switch {
	case err == nil:
		tx.UpdatedAt = updatedAt(doc, tx.UpdatedAt)
		return apply(ctx, p, p.transactions, gen, tx, StateCommitted)
	case remote.IsPayloadTooLarge(err) && tx.HasAttachment():
		return p.updateTransactionDegraded(ctx, id, gen, tx)
	default:
		return apply(ctx, p, p.transactions, gen, tx, StateLocalFallback)
	}
}

// DeleteTransaction removes the transaction remotely when possible and
// always removes it locally.
func (p *Policy) DeleteTransaction(ctx context.Context, txID string) (Result, error) {
	id, gen, err := p.current()
	if err != nil {
		return Result{}, err
	}
	if _, ok := p.transactions.store.Get(txID); !ok {
		return Result{}, ErrRecordNotFound
	}

	state := deleteRemote(ctx, p, p.transactions, p.ref(id, remote.CollectionTransactions), id.LocalOnly, txID)
	return remove(ctx, p, p.transactions, gen, txID, state)
}

func (p *Policy) oversized(tx record.Transaction) bool {
	return tx.HasAttachment() && attachment.EstimateSize(tx.Attachment) > p.config.AttachmentThresholdBytes
}

func (p *Policy) createTransactionLocally(ctx context.Context, gen uint64, tx record.Transaction) (Result, error) {
	tx.ID = record.NewLocalID()
	return apply(ctx, p, p.transactions, gen, tx, StateLocalFallback)
}

// createTransactionDegraded pushes tx without its attachment and keeps the
// full record locally under the remote id.
func (p *Policy) createTransactionDegraded(ctx context.Context, id session.Identity, gen uint64, tx record.Transaction) (Result, error) {
	doc, err := p.pushTransaction(ctx, id, tx.WithoutAttachment())
	if err != nil {
		return p.createTransactionLocally(ctx, gen, tx)
	}
	return p.degraded(ctx, gen, stamped(tx, doc))
}

func (p *Policy) updateTransactionDegraded(ctx context.Context, id session.Identity, gen uint64, tx record.Transaction) (Result, error) {
	doc, err := p.updateTransactionRemote(ctx, id, tx.WithoutAttachment())
	if err != nil {
		return apply(ctx, p, p.transactions, gen, tx, StateLocalFallback)
	}
	tx.UpdatedAt = updatedAt(doc, tx.UpdatedAt)
	return p.degraded(ctx, gen, tx)
}

func (p *Policy) degraded(ctx context.Context, gen uint64, tx record.Transaction) (Result, error) {
	res, err := apply(ctx, p, p.transactions, gen, tx, StateDegrading)
	if err != nil {
		return res, err
	}
	p.metrics.RecordDegraded(p.transactions.name)
	p.logger.Info("attachment kept locally",
		zap.String("id", tx.ID),
		zap.Int("estimated_bytes", attachment.EstimateSize(tx.Attachment)),
	)
	res.Notice = ErrAttachmentLocalOnly
	return res, nil
}

func (p *Policy) pushTransaction(ctx context.Context, id session.Identity, tx record.Transaction) (remote.Document, error) {
	var doc remote.Document
	err := p.call(ctx, p.transactions.name, "push", func(ctx context.Context) error {
		data, err := encode(tx)
		if err != nil {
			return err
		}
		doc, err = p.remote.Push(ctx, p.ref(id, remote.CollectionTransactions), data)
		return err
	})
	return doc, err
}

// updateTransactionRemote sends the full record. A transaction without an
// attachment clears the remote one.
func (p *Policy) updateTransactionRemote(ctx context.Context, id session.Identity, tx record.Transaction) (remote.Document, error) {
	var doc remote.Document
	err := p.call(ctx, p.transactions.name, "update", func(ctx context.Context) error {
		data, err := encode(tx, attachmentField)
		if err != nil {
			return err
		}
		doc, err = p.remote.Update(ctx, p.ref(id, remote.CollectionTransactions), tx.ID, data)
		return err
	})
	return doc, err
}

// updatedAt returns the update time the remote store assigned, so the
// subscription echo of the update matches the local copy.
func updatedAt(doc remote.Document, fallback time.Time) time.Time {
	if doc.UpdatedAt.IsZero() {
		return fallback
	}
	return doc.UpdatedAt
}

// stamped takes the identity and timestamps the remote store assigned.
func stamped(tx record.Transaction, doc remote.Document) record.Transaction {
	fillTransaction(&tx, doc)
	return tx
}
