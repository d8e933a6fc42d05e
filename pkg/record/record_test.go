package record

import (
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestTransaction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tx      Transaction
		wantErr error
	}{
		{"valid income", Transaction{Type: Income, Category: "Gaji", Amount: 5000000}, nil},
		{"valid expense", Transaction{Type: Expense, Category: "Makanan", Amount: 1}, nil},
		{"zero amount", Transaction{Type: Expense, Category: "Makanan", Amount: 0}, ErrInvalidAmount},
		{"negative amount", Transaction{Type: Expense, Category: "Makanan", Amount: -10}, ErrInvalidAmount},
		{"bad type", Transaction{Type: "transfer", Category: "Makanan", Amount: 10}, ErrInvalidType},
		{"category of other type", Transaction{Type: Income, Category: "Makanan", Amount: 10}, ErrUnknownCategory},
		{"shared category", Transaction{Type: Income, Category: Other, Amount: 10}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !IsValidation(err) {
				t.Errorf("expected IsValidation to be true for %v", err)
			}
		})
	}
}

func TestValidateCategory_Suggestion(t *testing.T) {
	err := ValidateCategory(Expense, "makann")

	var catErr *CategoryError
	if !errors.As(err, &catErr) {
		t.Fatalf("expected CategoryError, got %v", err)
	}
	if catErr.Suggestion != "Makanan" {
		t.Errorf("expected suggestion Makanan, got %q", catErr.Suggestion)
	}
}

func TestSuggest_NothingClose(t *testing.T) {
	if got := Suggest(Income, "completely unrelated"); got != "" {
		t.Errorf("expected no suggestion, got %q", got)
	}
	if got := Suggest(Income, ""); got != "" {
		t.Errorf("expected no suggestion for empty input, got %q", got)
	}
}

func TestSavingsGoal_AddAmount(t *testing.T) {
	g := SavingsGoal{Label: "Laptop", Target: 10000000, Current: 2000000}
	g.Recompute()

	g.AddAmount(500000)

	if g.Current != 2500000 {
		t.Errorf("expected current 2500000, got %d", g.Current)
	}
	if math.Abs(g.Progress-25.0) > 1e-9 {
		t.Errorf("expected progress 25.0, got %v", g.Progress)
	}
	if g.Remaining() != 7500000 {
		t.Errorf("expected remaining 7500000, got %d", g.Remaining())
	}
}

func TestSavingsGoal_OverTarget(t *testing.T) {
	g := SavingsGoal{Label: "Trip", Target: 100}
	g.AddAmount(150)

	if !g.Reached() {
		t.Error("expected goal to be reached")
	}
	if g.Progress != 150 {
		t.Errorf("expected progress 150, got %v", g.Progress)
	}
	if g.Remaining() != 0 {
		t.Errorf("expected remaining 0, got %d", g.Remaining())
	}
}

func TestSavingsGoal_WithdrawFloorsAtZero(t *testing.T) {
	g := SavingsGoal{Label: "Trip", Target: 100, Current: 30}
	g.AddAmount(-50)

	if g.Current != 0 {
		t.Errorf("expected current 0, got %d", g.Current)
	}
	if g.Progress != 0 {
		t.Errorf("expected progress 0, got %v", g.Progress)
	}
}

func TestSavingsGoal_Validate(t *testing.T) {
	if err := (SavingsGoal{Target: 10}).Validate(); !errors.Is(err, ErrEmptyLabel) {
		t.Errorf("expected ErrEmptyLabel, got %v", err)
	}
	if err := (SavingsGoal{Label: "x"}).Validate(); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("expected ErrInvalidTarget, got %v", err)
	}
	if err := (SavingsGoal{Label: "x", Target: 10, Current: -1}).Validate(); !errors.Is(err, ErrInvalidCurrent) {
		t.Errorf("expected ErrInvalidCurrent, got %v", err)
	}
}

func TestTransaction_WithoutAttachment(t *testing.T) {
	tx := Transaction{ID: "1", Attachment: "data:image/jpeg;base64,AAAA"}
	stripped := tx.WithoutAttachment()

	if stripped.HasAttachment() {
		t.Error("expected stripped copy to have no attachment")
	}
	if !tx.HasAttachment() {
		t.Error("original must keep its attachment")
	}
}

func TestNewLocalID_Increasing(t *testing.T) {
	prev := int64(0)
	for i := 0; i < 100; i++ {
		id, err := strconv.ParseInt(NewLocalID(), 10, 64)
		if err != nil {
			t.Fatalf("id is not numeric: %v", err)
		}
		if id <= prev {
			t.Fatalf("expected increasing ids, got %d after %d", id, prev)
		}
		prev = id
	}
}
