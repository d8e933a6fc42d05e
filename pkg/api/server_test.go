package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finsync/pkg/export"
	kvmem "finsync/pkg/kv/memory"
	memorycollector "finsync/pkg/metrics/memory"
	"finsync/pkg/persist"
	"finsync/pkg/reconcile"
	"finsync/pkg/record"
	"finsync/pkg/remote"
	"finsync/pkg/remote/memory"
	"finsync/pkg/report"
	"finsync/pkg/session"

	"github.com/prometheus/client_golang/prometheus"
)

var testNow = time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	metrics *memorycollector.MemoryCollector
}

// setupTestServer builds a server over rs. A nil rs runs without a remote
// store, so every mutation settles locally.
func setupTestServer(t *testing.T, rs remote.Store) *testServer {
	t.Helper()

	mc := memorycollector.NewMemoryCollector()
	local := persist.NewAdapter(kvmem.New(kvmem.Config{}), mc)
	policy := reconcile.New(rs, local, reconcile.DefaultConfig(), reconcile.WithMetrics(mc))
	t.Cleanup(policy.Logout)

	registry := prometheus.NewRegistry()
	config := DefaultServerConfig()
	config.Gatherer = registry

	s := NewServer(policy, session.NewDirectory(session.DefaultAccounts()), mc, config)
	s.now = func() time.Time { return testNow }
	for _, c := range s.Collectors() {
		registry.MustRegister(c)
	}
	return &testServer{Server: s, metrics: mc}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T, localOnly bool) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/session/login", map[string]interface{}{
		"email":     "Demo@SmartFinance.com",
		"password":  "demo123",
		"localOnly": localOnly,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func lunch() map[string]interface{} {
	return map[string]interface{}{
		"type":        "expense",
		"category":    "Makanan",
		"amount":      25000,
		"date":        "2024-03-15",
		"description": "Makan siang",
	}
}

func createTransaction(t *testing.T, ts *testServer, body map[string]interface{}) mutationResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/transactions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var res mutationResponse
	decode(t, w, &res)
	return res
}

func TestServer_Health(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	decode(t, w, &response)
	if response["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", response["status"])
	}
}

func TestServer_Status(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)
	createTransaction(t, ts, lunch())

	w := ts.do(t, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Status       string          `json:"status"`
		Session      session.Session `json:"session"`
		Transactions int             `json:"transactions"`
	}
	decode(t, w, &response)

	if response.Status != "running" {
		t.Errorf("Expected status running, got %v", response.Status)
	}
	if response.Session.Identity.Email != "demo@smartfinance.com" {
		t.Errorf("Expected the demo session, got %q", response.Session.Identity.Email)
	}
	if response.Session.Status != session.StatusOffline {
		t.Errorf("Expected offline without a remote store, got %q", response.Session.Status)
	}
	if response.Transactions != 1 {
		t.Errorf("Expected 1 transaction, got %d", response.Transactions)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodGet, "/health", nil)

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `finsync_http_requests_total{endpoint="/health",method="GET",status="200"} 1`) {
		t.Errorf("Expected request counter for /health, got:\n%s", body)
	}
}

func TestServer_MetricsJSON(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)
	createTransaction(t, ts, lunch())

	w := ts.do(t, http.MethodGet, "/metrics/json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var snap memorycollector.Snapshot
	decode(t, w, &snap)
	if got := snap.Collections[remote.CollectionTransactions].Fallbacks; got != 1 {
		t.Errorf("Expected 1 fallback, got %d", got)
	}
}

func TestServer_Login(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/session/login", map[string]string{"email": "demo@smartfinance.com", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a wrong password, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/session/login", map[string]string{"email": "demo@smartfinance.com", "password": "demo123"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response struct {
		Session  session.Session `json:"session"`
		Initials string          `json:"initials"`
	}
	decode(t, w, &response)
	if response.Session.Identity.DisplayName != "Demo" {
		t.Errorf("Expected display name Demo, got %q", response.Session.Identity.DisplayName)
	}
	if response.Initials != "DE" {
		t.Errorf("Expected initials DE, got %q", response.Initials)
	}

	w = ts.do(t, http.MethodPost, "/session/login", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an empty body, got %d", w.Code)
	}
}

func TestServer_Logout(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)
	createTransaction(t, ts, lunch())

	w := ts.do(t, http.MethodPost, "/session/logout", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	var sess session.Session
	decode(t, ts.do(t, http.MethodGet, "/session", nil), &sess)
	if sess.Active() {
		t.Error("Expected no active session after logout")
	}

	var list []record.Transaction
	decode(t, ts.do(t, http.MethodGet, "/transactions", nil), &list)
	if len(list) != 0 {
		t.Errorf("Expected no transactions after logout, got %d", len(list))
	}

	w = ts.do(t, http.MethodPost, "/transactions", lunch())
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without a session, got %d", w.Code)
	}
}

func TestServer_Online(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)

	w := ts.do(t, http.MethodPut, "/session/online", map[string]bool{"online": true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var sess session.Session
	decode(t, w, &sess)
	if !sess.Online || sess.Status != session.StatusSyncing {
		t.Errorf("Expected online and syncing, got %+v", sess)
	}

	decode(t, ts.do(t, http.MethodPut, "/session/online", map[string]bool{"online": false}), &sess)
	if sess.Online || sess.Status != session.StatusOffline {
		t.Errorf("Expected offline, got %+v", sess)
	}
}

func TestServer_TransactionLifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)

	created := createTransaction(t, ts, lunch())
	if created.State != reconcile.StateLocalFallback.String() {
		t.Errorf("Expected state local_fallback, got %q", created.State)
	}
	if created.ID == "" {
		t.Fatal("Expected a local id")
	}

	w := ts.do(t, http.MethodGet, "/transactions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var tx record.Transaction
	decode(t, w, &tx)
	if tx.Amount != 25000 || tx.Category != "Makanan" {
		t.Errorf("Unexpected transaction %+v", tx)
	}
	if !tx.Date.Equal(time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected date 2024-03-15, got %v", tx.Date)
	}

	update := lunch()
	update["amount"] = 30000
	w = ts.do(t, http.MethodPut, "/transactions/"+created.ID, update)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on update, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, ts.do(t, http.MethodGet, "/transactions/"+created.ID, nil), &tx)
	if tx.Amount != 30000 {
		t.Errorf("Expected amount 30000 after update, got %d", tx.Amount)
	}

	w = ts.do(t, http.MethodDelete, "/transactions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on delete, got %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/transactions/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/transactions/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 deleting twice, got %d", w.Code)
	}
}

func TestServer_UpdateKeepsAttachmentUnlessCleared(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)

	body := lunch()
	body["image"] = "data:image/jpeg;base64,AAAA"
	created := createTransaction(t, ts, body)

	ts.do(t, http.MethodPut, "/transactions/"+created.ID, lunch())
	tx, _ := ts.policy.Transaction(created.ID)
	if tx.Attachment != "data:image/jpeg;base64,AAAA" {
		t.Errorf("Expected the attachment to be kept, got %q", tx.Attachment)
	}

	cleared := lunch()
	cleared["image"] = ""
	ts.do(t, http.MethodPut, "/transactions/"+created.ID, cleared)
	tx, _ = ts.policy.Transaction(created.ID)
	if tx.HasAttachment() {
		t.Error("Expected the attachment to be removed")
	}
}

func TestServer_TransactionValidation(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)

	tests := []struct {
		name   string
		modify func(map[string]interface{})
		status int
	}{
		{"zero amount", func(b map[string]interface{}) { b["amount"] = 0 }, http.StatusBadRequest},
		{"bad type", func(b map[string]interface{}) { b["type"] = "transfer" }, http.StatusBadRequest},
		{"bad category", func(b map[string]interface{}) { b["category"] = "Makan" }, http.StatusBadRequest},
		{"bad date", func(b map[string]interface{}) { b["date"] = "15/03/2024" }, http.StatusBadRequest},
		{"not an image", func(b map[string]interface{}) { b["image"] = "data:image/jpeg;base64," + strings.Repeat("A", 3<<19) }, http.StatusBadRequest},
		{"upload too large", func(b map[string]interface{}) { b["image"] = "data:image/jpeg;base64," + strings.Repeat("A", 4<<20) }, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := lunch()
			tt.modify(body)
			w := ts.do(t, http.MethodPost, "/transactions", body)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}

	body := lunch()
	body["category"] = "Makan"
	var response map[string]interface{}
	decode(t, ts.do(t, http.MethodPost, "/transactions", body), &response)
	if response["suggestion"] != "Makanan" {
		t.Errorf("Expected suggestion Makanan, got %v", response["suggestion"])
	}

	if n := len(ts.policy.Transactions()); n != 0 {
		t.Errorf("Expected no stored transactions, got %d", n)
	}
}

func TestServer_RequestBodyLimit(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)
	ts.config.Attachment.MaxUploadBytes = 1024

	body := lunch()
	body["description"] = strings.Repeat("x", 128<<10)
	w := ts.do(t, http.MethodPost, "/transactions", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "request body over") {
		t.Errorf("Expected the body limit in the error, got %s", w.Body.String())
	}
	if n := len(ts.policy.Transactions()); n != 0 {
		t.Errorf("Expected no transaction to be stored, got %d", n)
	}

	w = ts.do(t, http.MethodPost, "/transactions", lunch())
	if w.Code != http.StatusCreated {
		t.Errorf("Expected a normal request to pass the limit, got %d", w.Code)
	}
}

func TestServer_ListTransactionsFilters(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)

	createTransaction(t, ts, lunch())
	salary := map[string]interface{}{"type": "income", "category": "Gaji", "amount": 5000000, "date": "2024-03-18"}
	createTransaction(t, ts, salary)
	old := lunch()
	old["date"] = "2023-12-01"
	createTransaction(t, ts, old)

	var all []record.Transaction
	decode(t, ts.do(t, http.MethodGet, "/transactions", nil), &all)
	if len(all) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(all))
	}
	if all[0].Category != "Gaji" {
		t.Errorf("Expected newest date first, got %s", all[0].Category)
	}

	var expenses []record.Transaction
	decode(t, ts.do(t, http.MethodGet, "/transactions?type=expense&period=month", nil), &expenses)
	if len(expenses) != 1 {
		t.Errorf("Expected 1 expense this month, got %d", len(expenses))
	}
}

func TestServer_GoalLifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)

	w := ts.do(t, http.MethodPost, "/goals", map[string]interface{}{"goal": "Laptop", "target": 1000, "current": 100})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created mutationResponse
	decode(t, w, &created)

	w = ts.do(t, http.MethodPost, "/goals/"+created.ID+"/deposits", depositRequest{Amount: 150})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on deposit, got %d", w.Code)
	}
	g, _ := ts.policy.Goal(created.ID)
	if g.Current != 250 || g.Progress != 25.0 {
		t.Errorf("Expected current 250 and progress 25, got %d and %v", g.Current, g.Progress)
	}

	w = ts.do(t, http.MethodPost, "/goals/"+created.ID+"/deposits", depositRequest{Amount: 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a zero deposit, got %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/goals/missing/deposits", depositRequest{Amount: 10})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for an unknown goal, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPut, "/goals/"+created.ID, map[string]interface{}{"goal": "Laptop baru", "target": 2000, "current": 500})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on update, got %d", w.Code)
	}

	var list struct {
		Goals   []record.SavingsGoal `json:"goals"`
		Summary report.GoalSummary   `json:"summary"`
	}
	decode(t, ts.do(t, http.MethodGet, "/goals", nil), &list)
	if len(list.Goals) != 1 || list.Goals[0].Label != "Laptop baru" {
		t.Fatalf("Unexpected goals %+v", list.Goals)
	}
	if list.Summary.Target != 2000 || list.Summary.Progress != 25.0 {
		t.Errorf("Unexpected summary %+v", list.Summary)
	}

	w = ts.do(t, http.MethodDelete, "/goals/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 on delete, got %d", w.Code)
	}
	if n := len(ts.policy.Goals()); n != 0 {
		t.Errorf("Expected no goals after delete, got %d", n)
	}
}

func TestServer_Reports(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)

	createTransaction(t, ts, lunch())
	createTransaction(t, ts, map[string]interface{}{"type": "income", "category": "Gaji", "amount": 100000, "date": "2024-03-18"})

	var summary report.Summary
	decode(t, ts.do(t, http.MethodGet, "/reports/summary?period=all", nil), &summary)
	if summary.Income != 100000 || summary.Expense != 25000 || summary.Balance != 75000 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if summary.SavingsRate != 75.0 {
		t.Errorf("Expected savings rate 75, got %v", summary.SavingsRate)
	}

	var categories []report.CategoryTotal
	decode(t, ts.do(t, http.MethodGet, "/reports/categories?period=unknown", nil), &categories)
	if len(categories) != 1 || categories[0].Category != "Makanan" || categories[0].Share != 100 {
		t.Errorf("Unexpected categories %+v", categories)
	}

	var daily []report.DayTotal
	decode(t, ts.do(t, http.MethodGet, "/reports/daily", nil), &daily)
	if len(daily) != 7 {
		t.Fatalf("Expected 7 days, got %d", len(daily))
	}
	if daily[1].Expense != 25000 || daily[4].Income != 100000 {
		t.Errorf("Unexpected daily totals %+v", daily)
	}

	w := ts.do(t, http.MethodGet, "/reports/daily?days=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad days, got %d", w.Code)
	}
}

func TestServer_Exports(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/export/csv", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without a session, got %d", w.Code)
	}

	ts.login(t, false)
	createTransaction(t, ts, lunch())
	ts.do(t, http.MethodPost, "/goals", map[string]interface{}{"goal": "Laptop", "target": 1000})

	w = ts.do(t, http.MethodGet, "/export/csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "transactions_demo_smartfinance_com_2024-03-20.csv") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	if !strings.Contains(w.Body.String(), "User,,,Demo,") {
		t.Errorf("Expected the user in the footer, got:\n%s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/export/backup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	b, err := export.ReadBackup(w.Body)
	if err != nil {
		t.Fatalf("ReadBackup: %v", err)
	}
	if len(b.Transactions) != 1 || len(b.Goals) != 1 {
		t.Errorf("Expected 1 transaction and 1 goal, got %d and %d", len(b.Transactions), len(b.Goals))
	}
	if b.User != "demo@smartfinance.com" {
		t.Errorf("Expected backup user email, got %q", b.User)
	}
}

func TestServer_ClearAll(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.login(t, false)
	createTransaction(t, ts, lunch())

	w := ts.do(t, http.MethodDelete, "/data", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
	if n := len(ts.policy.Transactions()); n != 0 {
		t.Errorf("Expected no transactions after clearing, got %d", n)
	}
}

func TestServer_CommittedWithRemote(t *testing.T) {
	rs := memory.New(memory.Config{})
	ts := setupTestServer(t, rs)
	ts.login(t, false)

	created := createTransaction(t, ts, lunch())
	if created.State != reconcile.StateCommitted.String() {
		t.Errorf("Expected state committed, got %q", created.State)
	}

	ref := remote.Ref{Partition: "demo@smartfinance.com", Collection: remote.CollectionTransactions}
	docs := rs.Documents(ref)
	if len(docs) != 1 || docs[0].ID != created.ID {
		t.Errorf("Expected the remote document %q, got %+v", created.ID, docs)
	}
}

func TestServer_LocalOnlySession(t *testing.T) {
	rs := memory.New(memory.Config{})
	ts := setupTestServer(t, rs)
	ts.login(t, true)

	created := createTransaction(t, ts, lunch())
	if created.State != reconcile.StateLocalFallback.String() {
		t.Errorf("Expected state local_fallback, got %q", created.State)
	}
	ref := remote.Ref{Partition: "demo@smartfinance.com", Collection: remote.CollectionTransactions}
	if docs := rs.Documents(ref); len(docs) != 0 {
		t.Errorf("Expected no remote documents, got %d", len(docs))
	}
}
