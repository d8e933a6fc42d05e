// Package report computes the aggregates shown on the dashboard and the
// reports page. Every function is pure: same input, same output, no
// side effects, so callers can recompute after every change.
package report

import (
	"sort"
	"time"

	"finsync/pkg/record"

	"github.com/jinzhu/now"
	"github.com/shopspring/decimal"
)

// CategoryTotal is the expense total of one category.
type CategoryTotal struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
	Count    int    `json:"count"`

	// Share is the percentage of total expense, one decimal.
	Share float64 `json:"share"`
}

// Summary is the period overview of the reports page.
type Summary struct {
	Period      Period          `json:"period"`
	Label       string          `json:"label"`
	Income      int64           `json:"income"`
	Expense     int64           `json:"expense"`
	Balance     int64           `json:"balance"`
	SavingsRate float64         `json:"savingsRate"`
	Count       int             `json:"count"`
	Categories  []CategoryTotal `json:"categories"`
}

// DayTotal is one bar pair of the dashboard chart.
type DayTotal struct {
	Date    time.Time `json:"date"`
	Income  int64     `json:"income"`
	Expense int64     `json:"expense"`
}

// SumByType adds up the amounts of transactions of type t.
func SumByType(txs []record.Transaction, t record.Type) int64 {
	var sum int64
	for _, tx := range txs {
		if tx.Type == t {
			sum += tx.Amount
		}
	}
	return sum
}

// Balance is total income minus total expense.
func Balance(txs []record.Transaction) int64 {
	return SumByType(txs, record.Income) - SumByType(txs, record.Expense)
}

// CategoryBreakdown groups expenses by category, largest amount first.
// Equal amounts keep the order in which their categories first appear.
func CategoryBreakdown(txs []record.Transaction) []CategoryTotal {
	index := make(map[string]int)
	totals := make([]CategoryTotal, 0)
	var expense int64

	for _, tx := range txs {
		if tx.Type != record.Expense {
			continue
		}
		expense += tx.Amount
		i, ok := index[tx.Category]
		if !ok {
			i = len(totals)
			index[tx.Category] = i
			totals = append(totals, CategoryTotal{Category: tx.Category})
		}
		totals[i].Amount += tx.Amount
		totals[i].Count++
	}

	sort.SliceStable(totals, func(i, j int) bool {
		return totals[i].Amount > totals[j].Amount
	})
	for i := range totals {
		totals[i].Share = Share(totals[i].Amount, expense)
	}
	return totals
}

// SavingsRate is (income-expense)/income*100 rounded to one decimal.
// It is 0 when there is no income.
func SavingsRate(income, expense int64) float64 {
	return Share(income-expense, income)
}

// Share is amount/total*100 rounded to one decimal, or 0 when total is 0.
func Share(amount, total int64) float64 {
	if total == 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(total)).
		Round(1).
		InexactFloat64()
}

// Summarize computes the reports page for period p at time t.
func Summarize(txs []record.Transaction, p Period, t time.Time) Summary {
	filtered := FilterByPeriod(txs, p, t)
	income := SumByType(filtered, record.Income)
	expense := SumByType(filtered, record.Expense)

	return Summary{
		Period:      p,
		Label:       p.Label(),
		Income:      income,
		Expense:     expense,
		Balance:     income - expense,
		SavingsRate: SavingsRate(income, expense),
		Count:       len(filtered),
		Categories:  CategoryBreakdown(filtered),
	}
}

// DailyTotals returns per-day income and expense for the last days
// calendar days ending on t's day, oldest first.
func DailyTotals(txs []record.Transaction, days int, t time.Time) []DayTotal {
	if days <= 0 {
		return []DayTotal{}
	}

	today := now.With(t).BeginningOfDay()
	out := make([]DayTotal, days)
	for i := range out {
		out[i].Date = today.AddDate(0, 0, i-days+1)
	}

	for _, tx := range txs {
		day := now.With(tx.Date.In(t.Location())).BeginningOfDay()
		for i := range out {
			if !out[i].Date.Equal(day) {
				continue
			}
			if tx.Type == record.Income {
				out[i].Income += tx.Amount
			} else if tx.Type == record.Expense {
				out[i].Expense += tx.Amount
			}
			break
		}
	}
	return out
}

// Filter narrows the transaction history. Empty fields match everything.
type Filter struct {
	Type     record.Type
	Category string
	Period   Period
}

// History returns the transactions matching f, newest date first.
func History(txs []record.Transaction, f Filter, t time.Time) []record.Transaction {
	filtered := FilterByPeriod(txs, f.Period, t)

	out := filtered[:0]
	for _, tx := range filtered {
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if f.Category != "" && tx.Category != f.Category {
			continue
		}
		out = append(out, tx)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// GoalSummary aggregates every savings goal.
type GoalSummary struct {
	Count    int     `json:"count"`
	Reached  int     `json:"reached"`
	Target   int64   `json:"target"`
	Current  int64   `json:"current"`
	Progress float64 `json:"progress"`
}

// Goals sums targets and balances across goals. Progress is the overall
// percentage, one decimal.
func Goals(goals []record.SavingsGoal) GoalSummary {
	var s GoalSummary
	for _, g := range goals {
		s.Count++
		s.Target += g.Target
		s.Current += g.Current
		if g.Reached() {
			s.Reached++
		}
	}
	s.Progress = Share(s.Current, s.Target)
	return s
}
