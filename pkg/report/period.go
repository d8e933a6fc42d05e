package report

import (
	"time"

	"finsync/pkg/record"

	"github.com/jinzhu/now"
)

// Period selects a reporting window ending at the current time.
type Period string

const (
	Today  Period = "today"
	Week   Period = "week"
	Month  Period = "month"
	Month1 Period = "month1"
	Month2 Period = "month2"
	Month3 Period = "month3"
	All    Period = "all"
)

var periodLabels = map[Period]string{
	Today:  "Hari Ini",
	Week:   "Minggu Ini",
	Month:  "Bulan Ini",
	Month1: "1 Bulan Lalu",
	Month2: "2 Bulan Lalu",
	Month3: "3 Bulan Lalu",
	All:    "Semua Waktu",
}

// Periods lists the known periods in display order.
func Periods() []Period {
	return []Period{Today, Week, Month, Month1, Month2, Month3, All}
}

// ParsePeriod returns the period named s and whether it is known.
func ParsePeriod(s string) (Period, bool) {
	p := Period(s)
	_, ok := periodLabels[p]
	return p, ok
}

// Label returns the display name of the period.
func (p Period) Label() string {
	if l, ok := periodLabels[p]; ok {
		return l
	}
	return periodLabels[Month]
}

// Start returns the inclusive lower bound of the window ending at t.
// ok is false for All and unknown periods, which are unbounded.
func (p Period) Start(t time.Time) (start time.Time, ok bool) {
	switch p {
	case Today:
		return now.With(t).BeginningOfDay(), true
	case Week:
		return t.AddDate(0, 0, -7), true
	case Month, Month1:
		return t.AddDate(0, -1, 0), true
	case Month2:
		return t.AddDate(0, -2, 0), true
	case Month3:
		return t.AddDate(0, -3, 0), true
	default:
		return time.Time{}, false
	}
}

// FilterByPeriod returns the transactions dated inside [start, t].
// Unbounded periods return every transaction. The input is not modified.
func FilterByPeriod(txs []record.Transaction, p Period, t time.Time) []record.Transaction {
	start, ok := p.Start(t)

	out := make([]record.Transaction, 0, len(txs))
	for _, tx := range txs {
		if ok && (tx.Date.Before(start) || tx.Date.After(t)) {
			continue
		}
		out = append(out, tx)
	}
	return out
}
