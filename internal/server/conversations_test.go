package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/cinechat/cinechat/internal/store"
)

func newConversationsHandler(t *testing.T) (*ConversationsHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &ConversationsHandler{Store: &store.Store{DB: db}}, mock
}

func TestCloseConversationEndsOwnConversation(t *testing.T) {
	e := echo.New()
	handler, mock := newConversationsHandler(t)

	mock.ExpectExec(`UPDATE conversations SET end_time=now\(\)`).
		WithArgs("c1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/close", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("c1")
	ctx.Set("user_id", "u1")

	if err := handler.close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCloseConversationNotFoundForOtherUser(t *testing.T) {
	e := echo.New()
	handler, mock := newConversationsHandler(t)

	mock.ExpectExec(`UPDATE conversations SET end_time=now\(\)`).
		WithArgs("c1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/close", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("c1")
	ctx.Set("user_id", "u2")

	err := handler.close(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
