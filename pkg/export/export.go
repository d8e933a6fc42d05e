// Package export renders the signed-in user's records as one-shot
// artifacts: a CSV of transactions with a summary footer and a JSON backup
// of both collections.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"finsync/pkg/record"
	"finsync/pkg/report"
)

// BackupVersion is written into every backup.
const BackupVersion = "1.0"

const dateLayout = "2006-01-02"

// ErrUnsupportedVersion is returned by ReadBackup for backups of another format.
var ErrUnsupportedVersion = errors.New("export: unsupported backup version")

// bom makes spreadsheet applications read the file as UTF-8.
const bom = "\ufeff"

var csvHeader = []string{"Date", "Type", "Category", "Amount", "Description"}

// Meta describes who exported and when.
type Meta struct {
	User       string
	ExportedAt time.Time
}

// WriteCSV writes txs newest date first, followed by a blank row and a
// summary of the exported set.
func WriteCSV(w io.Writer, txs []record.Transaction, meta Meta) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("export: write bom: %w", err)
	}

	sorted := make([]record.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	cw := csv.NewWriter(w)
	rows := make([][]string, 0, len(sorted)+8)
	rows = append(rows, csvHeader)
	for _, tx := range sorted {
		rows = append(rows, []string{
			tx.Date.Format(dateLayout),
			string(tx.Type),
			tx.Category,
			strconv.FormatInt(tx.Amount, 10),
			tx.Description,
		})
	}

	income := report.SumByType(txs, record.Income)
	expense := report.SumByType(txs, record.Expense)
	rows = append(rows,
		[]string{""},
		footer("Total Income", strconv.FormatInt(income, 10)),
		footer("Total Expense", strconv.FormatInt(expense, 10)),
		footer("Balance", strconv.FormatInt(income-expense, 10)),
		footer("Transaction Count", strconv.Itoa(len(txs))),
		footer("Export Date", meta.ExportedAt.Format(dateLayout)),
		footer("User", meta.User),
	)

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	return nil
}

func footer(label, value string) []string {
	return []string{label, "", "", value, ""}
}

// Backup is the full-fidelity export of both collections.
type Backup struct {
	Transactions []record.Transaction `json:"transactions"`
	Goals        []record.SavingsGoal `json:"savingsGoals"`
	ExportDate   time.Time            `json:"exportDate"`
	User         string               `json:"user"`
	Version      string               `json:"version"`
}

// NewBackup assembles a backup of the given records.
func NewBackup(txs []record.Transaction, goals []record.SavingsGoal, meta Meta) Backup {
	if txs == nil {
		txs = []record.Transaction{}
	}
	if goals == nil {
		goals = []record.SavingsGoal{}
	}
	return Backup{
		Transactions: txs,
		Goals:        goals,
		ExportDate:   meta.ExportedAt,
		User:         meta.User,
		Version:      BackupVersion,
	}
}

// WriteBackup writes b as indented JSON.
func WriteBackup(w io.Writer, b Backup) error {
	if b.Version == "" {
		b.Version = BackupVersion
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("export: write backup: %w", err)
	}
	return nil
}

// ReadBackup parses a backup written by WriteBackup. Goal progress is
// recomputed rather than trusted.
func ReadBackup(r io.Reader) (Backup, error) {
	var b Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Backup{}, fmt.Errorf("export: read backup: %w", err)
	}
	if b.Version != BackupVersion {
		return Backup{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, b.Version)
	}
	for i := range b.Goals {
		b.Goals[i].Recompute()
	}
	return b, nil
}
