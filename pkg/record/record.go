package record

import (
	"time"
)

// Type distinguishes money coming in from money going out.
type Type string

const (
	Income  Type = "income"
	Expense Type = "expense"
)

// Valid reports whether t is one of the known transaction types.
func (t Type) Valid() bool {
	return t == Income || t == Expense
}

// Identified is implemented by every record kept in a collection.
type Identified interface {
	RecordID() string
}

// Transaction is a single income or expense entry.
// Amount is expressed in the smallest currency unit.
type Transaction struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Category    string    `json:"category"`
	Amount      int64     `json:"amount"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`

	// Attachment is a data-URL encoded image. It may exist only locally
	// when it was too large for the remote store.
	Attachment string `json:"image,omitempty"`

	UserID string `json:"userId,omitempty"`
}

// RecordID returns the transaction id.
func (t Transaction) RecordID() string { return t.ID }

// HasAttachment reports whether the transaction carries an image.
func (t Transaction) HasAttachment() bool { return t.Attachment != "" }

// WithoutAttachment returns a copy of t with the attachment removed.
func (t Transaction) WithoutAttachment() Transaction {
	t.Attachment = ""
	return t
}

// Validate checks the amount, type and category of the transaction.
func (t Transaction) Validate() error {
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	return ValidateCategory(t.Type, t.Category)
}

// SavingsGoal tracks progress toward a target amount.
type SavingsGoal struct {
	ID      string `json:"id"`
	Label   string `json:"goal"`
	Target  int64  `json:"target"`
	Current int64  `json:"current"`

	// Progress is Current/Target*100. It is always derived by Recompute
	// and never trusted from input.
	Progress float64 `json:"progress"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	UserID    string    `json:"userId,omitempty"`
}

// RecordID returns the goal id.
func (g SavingsGoal) RecordID() string { return g.ID }

// Recompute derives Progress from Current and Target.
func (g *SavingsGoal) Recompute() {
	if g.Target <= 0 {
		g.Progress = 0
		return
	}
	g.Progress = float64(g.Current) / float64(g.Target) * 100
}

// AddAmount adds delta to the current amount and recomputes progress.
// A negative delta withdraws, but the balance never drops below zero.
func (g *SavingsGoal) AddAmount(delta int64) {
	g.Current += delta
	if g.Current < 0 {
		g.Current = 0
	}
	g.Recompute()
}

// Remaining returns how much is still needed to reach the target.
func (g SavingsGoal) Remaining() int64 {
	if g.Current >= g.Target {
		return 0
	}
	return g.Target - g.Current
}

// Reached reports whether the goal's target has been met.
func (g SavingsGoal) Reached() bool {
	return g.Current >= g.Target
}

// Validate checks the label, target and current amount of the goal.
func (g SavingsGoal) Validate() error {
	if g.Label == "" {
		return ErrEmptyLabel
	}
	if g.Target <= 0 {
		return ErrInvalidTarget
	}
	if g.Current < 0 {
		return ErrInvalidCurrent
	}
	return nil
}
