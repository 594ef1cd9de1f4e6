package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/cinechat/cinechat/internal/store"
)

func newConfigsHandler(t *testing.T) (*ConfigsHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &ConfigsHandler{Store: &store.Store{DB: db}}, mock
}

func TestPutConfigSavesAndRedactsKey(t *testing.T) {
	e := echo.New()
	handler, mock := newConfigsHandler(t)

	mock.ExpectQuery(`INSERT INTO model_configs`).
		WithArgs("u1", "openai", "gpt-4o", "sk-secret").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("mc1"))

	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"provider":"OpenAI","model":"gpt-4o","api_key":"sk-secret"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "u1")

	if err := handler.put(ctx); err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Fatal("api key must not appear in the response")
	}
	var resp ModelConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "mc1" || resp.Provider != "openai" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutConfigRejectsUnknownProvider(t *testing.T) {
	e := echo.New()
	handler, _ := newConfigsHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"provider":"cohere","model":"command-r","api_key":"k"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "u1")

	err := handler.put(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGetConfigReturnsLatest(t *testing.T) {
	e := echo.New()
	handler, mock := newConfigsHandler(t)

	mock.ExpectQuery(`SELECT id, user_id, provider, model, api_key, created_at FROM model_configs`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "provider", "model", "api_key", "created_at"}).
			AddRow("mc2", "u1", "anthropic", "claude-3-haiku", "sk-x", time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "u1")

	if err := handler.get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	var resp ModelConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "mc2" || resp.Model != "claude-3-haiku" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "sk-x") {
		t.Fatal("api key must not appear in the response")
	}
}

func TestGetConfigNotFound(t *testing.T) {
	e := echo.New()
	handler, mock := newConfigsHandler(t)

	mock.ExpectQuery(`SELECT id, user_id, provider, model, api_key, created_at FROM model_configs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "provider", "model", "api_key", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "u1")

	err := handler.get(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
