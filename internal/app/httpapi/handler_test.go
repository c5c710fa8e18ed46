package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/gateway"
	"github.com/campuslance/platform/internal/app/httpapi"
	"github.com/campuslance/platform/internal/app/services/bids"
	"github.com/campuslance/platform/internal/app/services/escrow"
	"github.com/campuslance/platform/internal/app/services/tasks"
	"github.com/campuslance/platform/internal/app/services/wallet"
	"github.com/campuslance/platform/internal/app/storage/memory"
	"github.com/campuslance/platform/internal/middleware"
)

type env struct {
	handler *httpapi.Handler
	store   *memory.Store
	client  user.User
	student user.User
	admin   user.User
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	client, err := store.CreateUser(ctx, user.User{Name: "Acme", Email: "acme@example.com", Role: user.RoleClient})
	require.NoError(t, err)
	student, err := store.CreateUser(ctx, user.User{
		Name: "Priya", Email: "priya@example.com", Role: user.RoleStudent,
		Skills: []string{"figma"},
	})
	require.NoError(t, err)
	admin, err := store.CreateUser(ctx, user.User{Name: "Ops", Email: "ops@example.com", Role: user.RoleAdmin})
	require.NoError(t, err)

	walletSvc := wallet.New(store, nil)
	escrowSvc := escrow.New(store, store, store, store, walletSvc, gateway.NewMock(), nil, nil)
	handler := httpapi.New(
		tasks.New(store, store, store, nil),
		bids.New(store, store, nil, nil),
		escrowSvc,
		walletSvc,
		nil,
	)

	return &env{handler: handler, store: store, client: client, student: student, admin: admin}
}

func (e *env) do(t *testing.T, method, path string, body interface{}, actor *user.User) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req = req.WithContext(middleware.WithActor(req.Context(), middleware.Actor{ID: actor.ID, Role: actor.Role}))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeField(t *testing.T, rec *httptest.ResponseRecorder, field string) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	if field == "" {
		return payload
	}
	sub, ok := payload[field].(map[string]interface{})
	require.True(t, ok, "response missing %q: %s", field, rec.Body.String())
	return sub
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	e := setup(t)

	rec := e.do(t, http.MethodPost, "/tasks", map[string]interface{}{
		"title": "Landing page", "budget": 1000.0, "required_skills": []string{"figma"},
	}, &e.client)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	taskID := decodeField(t, rec, "")["ID"].(string)

	rec = e.do(t, http.MethodGet, "/tasks", nil, &e.student)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed, 1)

	rec = e.do(t, http.MethodPost, "/bids", map[string]interface{}{
		"task_id": taskID, "quote": 900.0, "timeline": "5 days",
	}, &e.student)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bidID := decodeField(t, rec, "")["ID"].(string)

	rec = e.do(t, http.MethodPost, "/bids/"+bidID+"/accept", nil, &e.client)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payment := decodeField(t, rec, "payment")
	require.Equal(t, "held", payment["Status"])
	require.Equal(t, 990.0, payment["NetToStudent"])

	rec = e.do(t, http.MethodPost, "/tasks/"+taskID+"/submit", map[string]interface{}{
		"file_url": "https://files.example.com/work.zip",
	}, &e.student)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/tasks/"+taskID+"/approve", nil, &e.client)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/students/"+e.student.ID+"/wallet", nil, &e.student)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 990.0, decodeField(t, rec, "")["balance"])
}

func TestRoleEnforcement(t *testing.T) {
	e := setup(t)

	rec := e.do(t, http.MethodPost, "/tasks", map[string]interface{}{"title": "x", "budget": 10.0}, &e.student)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/tasks", map[string]interface{}{"title": "x", "budget": 10.0}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/bids/unknown/accept", nil, &e.client)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletIsPrivate(t *testing.T) {
	e := setup(t)

	rec := e.do(t, http.MethodGet, "/students/"+e.student.ID+"/wallet", nil, &e.client)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/students/"+e.student.ID+"/wallet", nil, &e.admin)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayWebhook(t *testing.T) {
	e := setup(t)

	// Build a held payment through the API.
	rec := e.do(t, http.MethodPost, "/tasks", map[string]interface{}{"title": "Logo", "budget": 1000.0}, &e.client)
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID := decodeField(t, rec, "")["ID"].(string)

	rec = e.do(t, http.MethodPost, "/bids", map[string]interface{}{"task_id": taskID, "quote": 900.0}, &e.student)
	require.Equal(t, http.StatusCreated, rec.Code)
	bidID := decodeField(t, rec, "")["ID"].(string)

	rec = e.do(t, http.MethodPost, "/bids/"+bidID+"/accept", nil, &e.client)
	require.Equal(t, http.StatusOK, rec.Code)
	orderRef := decodeField(t, rec, "payment")["GatewayOrderRef"].(string)

	envelope := fmt.Sprintf(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {"id": "pay_987", "order_id": %q}}}
	}`, orderRef)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewBufferString(envelope))
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Contains(t, recorder.Body.String(), "processed")

	balance, err := wallet.New(e.store, nil).Balance(context.Background(), e.student.ID)
	require.NoError(t, err)
	require.Equal(t, 990.0, balance)
}

func TestGatewayWebhookUnknownOrderAcknowledged(t *testing.T) {
	e := setup(t)

	envelope := `{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {"id": "pay_1", "order_id": "order_ghost"}}}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewBufferString(envelope))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ignored")
}

func TestGatewayWebhookRejectsMalformed(t *testing.T) {
	e := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewBufferString(`{"event": ""}`))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
