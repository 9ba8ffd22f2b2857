package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"bitbucket.org/mmdatafocus/budget_backend/workflow"
	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func bearer(t *testing.T, name string, role models.Role) string {
	t.Helper()
	claims := &utils.JwtCustomClaim{
		Name: name,
		Role: string(role),
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + token
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("API_SECRET", "test-secret")
	t.Setenv("UPSERT_REQUIRE_VERSION", "")
	t.Setenv("EXPORT_BUCKET", "")
	repo := models.NewMemoryStore()
	a := newAPI(repo, utils.NewKeyLocker(nil), nil, workflow.NewSummaryCache(nil, 0))
	logger := logrus.New()
	return newRouter(a, logger, nil)
}

func call(t *testing.T, r http.Handler, method string, path string, auth string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func lineItemBody(customer string, total int) map[string]interface{} {
	return map[string]interface{}{
		"kind":           "budget",
		"customer_key":   customer,
		"item_key":       "Tyre 195/65",
		"year":           2025,
		"rate":           "10",
		"total_quantity": total,
	}
}

func TestReadyHandler(t *testing.T) {
	h := &readyHandler{}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("healthz before ready: expected 204, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/line-items", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("api before ready: expected 503, got %d", w.Code)
	}

	h.engine.Store(newTestServer(t))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/line-items", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("api after ready without token: expected 401, got %d", w.Code)
	}
}

func TestUpsertLineItemHandler(t *testing.T) {
	r := newTestServer(t)
	salesman := bearer(t, "aung", models.RoleSalesman)

	w := call(t, r, http.MethodPost, "/api/line-items", salesman, lineItemBody("Shwe Motors", 120))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var item models.LineItem
	decode(t, w, &item)
	if item.Version != 1 || item.TotalQuantity() != 120 || item.Periods[0] != 10 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if cid := w.Header().Get("x-correlation-id"); cid == "" {
		t.Fatalf("expected a correlation id header")
	}

	w = call(t, r, http.MethodGet, "/api/line-items/"+item.ID, salesman, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	stale := lineItemBody("Shwe Motors", 240)
	stale["expected_version"] = 0
	w = call(t, r, http.MethodPost, "/api/line-items", bearer(t, "may", models.RoleManager), stale)
	if w.Code != http.StatusConflict {
		t.Fatalf("stale version: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var conflict map[string]interface{}
	decode(t, w, &conflict)
	if conflict["current_version"] != float64(1) || conflict["last_modified_by"] != "aung" {
		t.Fatalf("unexpected conflict body: %v", conflict)
	}

	cases := []struct {
		name string
		auth string
		body interface{}
		want int
	}{
		{"no token", "", lineItemBody("Shwe Motors", 12), http.StatusUnauthorized},
		{"viewer", bearer(t, "thida", models.RoleViewer), lineItemBody("Shwe Motors", 12), http.StatusForbidden},
		{"missing kind", salesman, map[string]interface{}{"customer_key": "A", "item_key": "B", "year": 2025}, http.StatusBadRequest},
		{"malformed json", salesman, "not an object", http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := call(t, r, http.MethodPost, "/api/line-items", tc.auth, tc.body)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.want, w.Code, w.Body.String())
		}
	}

	w = call(t, r, http.MethodGet, "/api/line-items/does-not-exist", salesman, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing item: expected 404, got %d", w.Code)
	}
}

func TestSubmitAndDecideHandlers(t *testing.T) {
	r := newTestServer(t)
	salesman := bearer(t, "aung", models.RoleSalesman)
	manager := bearer(t, "may", models.RoleManager)

	ids := make([]string, 0, 2)
	for _, customer := range []string{"Shwe Motors", "Golden Wheel"} {
		w := call(t, r, http.MethodPost, "/api/line-items", salesman, lineItemBody(customer, 24))
		if w.Code != http.StatusOK {
			t.Fatalf("upsert %s: %d %s", customer, w.Code, w.Body.String())
		}
		var item models.LineItem
		decode(t, w, &item)
		ids = append(ids, item.ID)
	}

	w := call(t, r, http.MethodPost, "/api/line-items/submit", salesman, map[string]interface{}{
		"ids":  ids,
		"kind": models.RequestKindBudgetSubmission,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var result workflow.SubmissionResult
	decode(t, w, &result)
	if result.Request == nil || result.Request.Quantity != 48 || result.Snapshot == nil {
		t.Fatalf("unexpected submission: %+v", result)
	}

	w = call(t, r, http.MethodGet, "/api/snapshots/"+result.Snapshot.WorkflowID, salesman, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot: expected 200, got %d", w.Code)
	}

	w = call(t, r, http.MethodGet, "/api/notifications/unread", manager, nil)
	var unread []models.Notification
	decode(t, w, &unread)
	if len(unread) == 0 {
		t.Fatalf("expected the manager to be notified")
	}
	w = call(t, r, http.MethodPost, "/api/notifications/"+unread[0].ID+"/read", manager, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("mark read: expected 204, got %d", w.Code)
	}

	w = call(t, r, http.MethodGet, "/api/approvals/inbox", manager, nil)
	var inbox []workflow.InboxEntry
	decode(t, w, &inbox)
	if len(inbox) != 1 || inbox[0].Request.ID != result.Request.ID {
		t.Fatalf("unexpected inbox: %+v", inbox)
	}

	decide := fmt.Sprintf("/api/requests/%s/decision", result.Request.ID)
	w = call(t, r, http.MethodPost, decide, manager, map[string]string{"decision": "approve"})
	if w.Code != http.StatusConflict {
		t.Fatalf("approve before review: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	w = call(t, r, http.MethodPost, "/api/requests/"+result.Request.ID+"/advance", manager, map[string]string{"status": "InReview"})
	if w.Code != http.StatusOK {
		t.Fatalf("review: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = call(t, r, http.MethodPost, decide, salesman, map[string]string{"decision": "approve"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("salesman approve: expected 403, got %d: %s", w.Code, w.Body.String())
	}
	w = call(t, r, http.MethodPost, decide, manager, map[string]string{"decision": "approve", "comment": "ok"})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = call(t, r, http.MethodPost, decide, manager, map[string]string{"decision": "reject"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second decision: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	w = call(t, r, http.MethodPost, decide, manager, map[string]string{"decision": "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad decision: expected 400, got %d", w.Code)
	}
}

func TestRequestHandlers(t *testing.T) {
	r := newTestServer(t)
	salesman := bearer(t, "aung", models.RoleSalesman)
	manager := bearer(t, "may", models.RoleManager)

	w := call(t, r, http.MethodPost, "/api/requests", salesman, map[string]interface{}{
		"kind":     "stock_request",
		"title":    "Need tyres",
		"quantity": 40,
		"urgency":  "high",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.Request
	decode(t, w, &created)

	w = call(t, r, http.MethodPost, "/api/requests/"+created.ID+"/advance", manager, map[string]string{"status": "Completed"})
	if w.Code != http.StatusConflict {
		t.Fatalf("skipping states: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = call(t, r, http.MethodPost, "/api/requests/"+created.ID+"/escalate", salesman, map[string]string{"message": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty escalation: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = call(t, r, http.MethodPost, "/api/requests/"+created.ID+"/comments", manager, map[string]string{"message": "checking stock"})
	if w.Code != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = call(t, r, http.MethodGet, "/api/requests/"+created.ID+"/transitions", salesman, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transitions: expected 200, got %d", w.Code)
	}

	w = call(t, r, http.MethodPost, "/api/requests/bulk-advance", manager, map[string]interface{}{
		"ids":    []string{created.ID, "missing"},
		"status": "SentToManager",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var results []map[string]interface{}
	decode(t, w, &results)
	if len(results) != 2 {
		t.Fatalf("expected one result per id, got %d", len(results))
	}

	w = call(t, r, http.MethodGet, "/api/requests?status=SentToManager", manager, nil)
	var listed []models.Request
	decode(t, w, &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected list: %+v", listed)
	}
}

func TestSummaryAndExportHandlers(t *testing.T) {
	r := newTestServer(t)
	salesman := bearer(t, "aung", models.RoleSalesman)

	w := call(t, r, http.MethodPost, "/api/line-items", salesman, lineItemBody("Shwe Motors", 120))
	if w.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", w.Code, w.Body.String())
	}

	w = call(t, r, http.MethodGet, "/api/summaries/2025/monthly?kind=budget", salesman, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("monthly: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = call(t, r, http.MethodGet, "/api/summaries/abc/annual", salesman, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad year: expected 400, got %d", w.Code)
	}

	w = call(t, r, http.MethodGet, "/api/export/2025", salesman, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != utils.XlsxContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "PK") {
		t.Fatalf("expected a zip payload")
	}

	w = call(t, r, http.MethodPost, "/api/export/2025/upload", salesman, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("upload without bucket: expected 503, got %d", w.Code)
	}
}

func TestDistributionPreviewHandler(t *testing.T) {
	r := newTestServer(t)

	w := call(t, r, http.MethodPost, "/api/distribution/preview", "", map[string]interface{}{
		"method":   "equal",
		"quantity": 14,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("preview: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var preview workflow.DistributionPreview
	decode(t, w, &preview)
	if preview.Total != 14 || preview.Periods[0] != 2 || preview.Periods[11] != 1 {
		t.Fatalf("unexpected preview: %+v", preview)
	}

	w = call(t, r, http.MethodPost, "/api/distribution/preview", "", map[string]interface{}{
		"method":   "equal",
		"quantity": -1,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative quantity: expected 400, got %d", w.Code)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{utils.NewValidationError("year", "bad"), http.StatusBadRequest},
		{&utils.ConservationViolation{}, http.StatusBadRequest},
		{&utils.AuthorizationError{}, http.StatusForbidden},
		{utils.NewNotFoundError("request", "x"), http.StatusNotFound},
		{&utils.InvalidTransitionError{}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", &utils.ConflictError{}), http.StatusConflict},
		{utils.ErrLockNotObtained, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
