package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"finsync/pkg/attachment"
	"finsync/pkg/export"
	"finsync/pkg/reconcile"
	"finsync/pkg/record"
	"finsync/pkg/report"
	"finsync/pkg/session"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("api: invalid request")

const (
	dateLayout  = "2006-01-02"
	defaultDays = 7
	maxDays     = 366
)

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	LocalOnly bool   `json:"localOnly"`
}

type transactionRequest struct {
	Type        record.Type `json:"type"`
	Category    string      `json:"category"`
	Amount      int64       `json:"amount"`
	Date        string      `json:"date"`
	Description string      `json:"description"`

	// Image is a data URL. On update a missing field keeps the current
	// attachment and an empty string removes it.
	Image *string `json:"image"`
}

type goalRequest struct {
	Label   string `json:"goal"`
	Target  int64  `json:"target"`
	Current int64  `json:"current"`
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

type mutationResponse struct {
	ID     string      `json:"id"`
	State  string      `json:"state"`
	Notice string      `json:"notice,omitempty"`
	Record interface{} `json:"record,omitempty"`
}

// bodyOverhead leaves room for the JSON fields around an attachment.
const bodyOverhead = 64 << 10

// decodeBody reads a JSON body no larger than a base64 attachment of
// MaxUploadBytes plus bodyOverhead.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body over %d bytes", attachment.ErrUploadTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) maxBodyBytes() int64 {
	upload := s.config.Attachment.MaxUploadBytes
	if upload <= 0 {
		upload = attachment.DefaultOptions().MaxUploadBytes
	}
	return int64(base64.StdEncoding.EncodedLen(upload)) + bodyOverhead
}

func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, now.Location()); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", errBadRequest, s)
	}
	return t, nil
}

func (s *Server) respond(w http.ResponseWriter, status int, res reconcile.Result, rec interface{}) {
	out := mutationResponse{ID: res.ID, State: res.State.String(), Record: rec}
	if res.Notice != nil {
		out.Notice = res.Notice.Error()
	}
	writeJSON(w, status, out)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.policy.Session())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	identity, err := s.accounts.Authenticate(req.Email, req.Password)
	if err != nil {
		s.logger.Info("login rejected", zap.String("email", req.Email))
		writeError(w, err)
		return
	}
	identity.LocalOnly = req.LocalOnly

	if err := s.policy.Login(r.Context(), identity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":  s.policy.Session(),
		"initials": identity.Initials(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.policy.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.policy.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, s.policy.Session())
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := report.Filter{
		Type:     record.Type(q.Get("type")),
		Category: q.Get("category"),
	}
	if p, ok := report.ParsePeriod(q.Get("period")); ok {
		f.Period = p
	}
	writeJSON(w, http.StatusOK, report.History(s.policy.Transactions(), f, s.now()))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.policy.Transaction(mux.Vars(r)["id"])
	if !ok {
		writeError(w, reconcile.ErrRecordNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	tx, err := s.transaction(req, record.Transaction{})
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.policy.CreateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, err)
		return
	}
	created, _ := s.policy.Transaction(res.ID)
	s.respond(w, http.StatusCreated, res, created)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, ok := s.policy.Transaction(id)
	if !ok {
		writeError(w, reconcile.ErrRecordNotFound)
		return
	}

	var req transactionRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	tx, err := s.transaction(req, existing)
	if err != nil {
		writeError(w, err)
		return
	}
	tx.ID = id

	res, err := s.policy.UpdateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, _ := s.policy.Transaction(res.ID)
	s.respond(w, http.StatusOK, res, updated)
}

// transaction builds a record from req. Attachments missing from req are
// taken from existing.
func (s *Server) transaction(req transactionRequest, existing record.Transaction) (record.Transaction, error) {
	date, err := parseDate(req.Date, s.now())
	if err != nil {
		return record.Transaction{}, err
	}
	tx := record.Transaction{
		Type:        req.Type,
		Category:    req.Category,
		Amount:      req.Amount,
		Date:        date,
		Description: req.Description,
		Attachment:  existing.Attachment,
	}
	if req.Image != nil {
		img, err := attachment.Normalize(*req.Image, s.config.Attachment)
		if err != nil {
			return record.Transaction{}, err
		}
		tx.Attachment = img
	}
	return tx, nil
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := s.policy.DeleteTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, res, nil)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals := s.policy.Goals()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"goals":   goals,
		"summary": report.Goals(goals),
	})
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.policy.CreateGoal(r.Context(), record.SavingsGoal{
		Label:   req.Label,
		Target:  req.Target,
		Current: req.Current,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	created, _ := s.policy.Goal(res.ID)
	s.respond(w, http.StatusCreated, res, created)
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.policy.UpdateGoal(r.Context(), record.SavingsGoal{
		ID:      mux.Vars(r)["id"],
		Label:   req.Label,
		Target:  req.Target,
		Current: req.Current,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	updated, _ := s.policy.Goal(res.ID)
	s.respond(w, http.StatusOK, res, updated)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.policy.AddToGoal(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, _ := s.policy.Goal(res.ID)
	s.respond(w, http.StatusOK, res, updated)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	res, err := s.policy.DeleteGoal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, res, nil)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// period reads the period query parameter. Unknown values select the month.
func period(r *http.Request) report.Period {
	if p, ok := report.ParsePeriod(r.URL.Query().Get("period")); ok {
		return p
	}
	return report.Month
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, report.Summarize(s.policy.Transactions(), period(r), s.now()))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	txs := report.FilterByPeriod(s.policy.Transactions(), period(r), s.now())
	writeJSON(w, http.StatusOK, report.CategoryBreakdown(txs))
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	days := defaultDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxDays {
			writeError(w, fmt.Errorf("%w: days must be between 1 and %d", errBadRequest, maxDays))
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, report.DailyTotals(s.policy.Transactions(), days, s.now()))
}

// exportMeta describes the export for the signed-in user.
func (s *Server) exportMeta() (export.Meta, session.Identity, error) {
	sess := s.policy.Session()
	if !sess.Active() {
		return export.Meta{}, session.Identity{}, reconcile.ErrNoSession
	}
	user := sess.Identity.DisplayName
	if user == "" {
		user = sess.Identity.Email
	}
	return export.Meta{User: user, ExportedAt: s.now()}, sess.Identity, nil
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	meta, identity, err := s.exportMeta()
	if err != nil {
		writeError(w, err)
		return
	}

	name := fmt.Sprintf("transactions_%s_%s.csv", identity.Key(), meta.ExportedAt.Format(dateLayout))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := export.WriteCSV(w, s.policy.Transactions(), meta); err != nil {
		s.logger.Error("writing csv export", zap.Error(err))
	}
}

func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	meta, identity, err := s.exportMeta()
	if err != nil {
		writeError(w, err)
		return
	}
	meta.User = identity.Email

	name := fmt.Sprintf("backup_%s_%s.json", identity.Key(), meta.ExportedAt.Format(dateLayout))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	b := export.NewBackup(s.policy.Transactions(), s.policy.Goals(), meta)
	if err := export.WriteBackup(w, b); err != nil {
		s.logger.Error("writing backup export", zap.Error(err))
	}
}
