package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cinechat/cinechat/internal/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("cinechat"),
		tcPostgres.WithUsername("cinechat"),
		tcPostgres.WithPassword("cinechat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://cinechat:cinechat@%s:%s/cinechat?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return dsn
}

func TestConversationLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dsn := startPostgres(t)

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.DB.Close()

	if err := st.CreateUser(ctx, "it@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID, _, err := st.GetUserByEmail(ctx, "it@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}

	mcID, err := st.SaveModelConfig(ctx, userID, "openai", "gpt-4o", "sk-test")
	if err != nil {
		t.Fatalf("SaveModelConfig: %v", err)
	}
	mc, ok, err := st.LatestModelConfig(ctx, userID)
	if err != nil || !ok || mc.ID != mcID {
		t.Fatalf("LatestModelConfig: %v %v %+v", err, ok, mc)
	}

	convID, err := st.GetOrCreateOpenConversation(ctx, userID, mcID)
	if err != nil {
		t.Fatalf("GetOrCreateOpenConversation: %v", err)
	}
	again, err := st.GetOrCreateOpenConversation(ctx, userID, mcID)
	if err != nil || again != convID {
		t.Fatalf("open conversation should be reused: %v %s != %s", err, again, convID)
	}

	if err := st.CreateMessage(ctx, convID, store.RoleUser, "Recommend something"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := st.CreateMessage(ctx, convID, store.RoleAssistant, "Try Heat."); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := st.CloseConversation(ctx, convID); err != nil {
		t.Fatalf("CloseConversation: %v", err)
	}
	fresh, err := st.GetOrCreateOpenConversation(ctx, userID, mcID)
	if err != nil {
		t.Fatalf("GetOrCreateOpenConversation after close: %v", err)
	}
	if fresh == convID {
		t.Fatal("closed conversation must not be reused")
	}
}

func TestEvaluationUpsertIsIdempotentPerConversation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dsn := startPostgres(t)

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.DB.Close()

	if err := st.CreateUser(ctx, "eval@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID, _, err := st.GetUserByEmail(ctx, "eval@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	mcID, err := st.SaveModelConfig(ctx, userID, "openai", "gpt-4o", "sk-test")
	if err != nil {
		t.Fatalf("SaveModelConfig: %v", err)
	}
	convID, err := st.GetOrCreateOpenConversation(ctx, userID, mcID)
	if err != nil {
		t.Fatalf("GetOrCreateOpenConversation: %v", err)
	}

	rec := store.EvaluationRecord{
		ConversationID: convID,
		ModelConfigID:  mcID,
		ModelName:      "gpt-4o",
		Metrics:        map[string]float64{"overall": 0.5},
		Comments:       map[string]string{"overall": "Overall Score: 0.50"},
	}
	if err := st.UpsertEvaluation(ctx, rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	rec.Metrics["overall"] = 0.9
	if err := st.UpsertEvaluation(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	metrics, ok, err := st.GetEvaluation(ctx, convID)
	if err != nil || !ok {
		t.Fatalf("GetEvaluation: %v %v", err, ok)
	}
	if metrics["overall"] != 0.9 {
		t.Fatalf("expected the updated score, got %v", metrics["overall"])
	}

	var count int
	if err := st.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM model_evaluations WHERE conversation_id=$1`, convID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one evaluation row, got %d", count)
	}
}

func TestCloseIdleConversations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dsn := startPostgres(t)

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.DB.Close()

	if err := st.CreateUser(ctx, "idle@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID, _, err := st.GetUserByEmail(ctx, "idle@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	mcID, err := st.SaveModelConfig(ctx, userID, "openai", "gpt-4o", "sk-test")
	if err != nil {
		t.Fatalf("SaveModelConfig: %v", err)
	}
	convID, err := st.GetOrCreateOpenConversation(ctx, userID, mcID)
	if err != nil {
		t.Fatalf("GetOrCreateOpenConversation: %v", err)
	}

	// nothing is idle yet
	n, err := st.CloseIdleConversations(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CloseIdleConversations: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no closures, got %d", n)
	}

	// a future cutoff makes everything idle
	n, err = st.CloseIdleConversations(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CloseIdleConversations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one closure, got %d", n)
	}

	fresh, err := st.GetOrCreateOpenConversation(ctx, userID, mcID)
	if err != nil {
		t.Fatalf("GetOrCreateOpenConversation: %v", err)
	}
	if fresh == convID {
		t.Fatal("closed conversation must not be reused")
	}
}
