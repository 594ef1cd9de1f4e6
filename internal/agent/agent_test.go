package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/cinechat/cinechat/config"
	"github.com/cinechat/cinechat/internal/catalog"
	"github.com/cinechat/cinechat/internal/llm"
	"github.com/cinechat/cinechat/internal/store"
)

type fakeProvider struct {
	tokens    []string
	terminal  error
	streamErr error
	calls     [][]llm.Message
}

func (f *fakeProvider) ModelName() string { return "fake-model" }

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	return strings.Join(f.tokens, ""), nil
}

func (f *fakeProvider) GenerateStream(ctx context.Context, messages []llm.Message) (*llm.Stream, error) {
	f.calls = append(f.calls, messages)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return llm.NewStaticStream(f.tokens, f.terminal), nil
}

var agentCatalogColumns = []string{
	"id", "title", "overview", "budget", "revenue", "popularity",
	"vote_average", "vote_count", "release_date", "keywords", "genres", "top_actors", "director",
}

func newTestAgent(t *testing.T) (*Agent, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	a := New(&store.Store{DB: db}, catalog.NewRetriever(db, nil, time.Minute), config.LLMConfig{}, nil)
	return a, mock
}

func TestInitializeWithoutModelConfig(t *testing.T) {
	a, mock := newTestAgent(t)
	mock.ExpectQuery("SELECT id, user_id, provider, model, api_key, created_at FROM model_configs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "provider", "model", "api_key", "created_at"}))

	err := a.Initialize(context.Background(), "u1")
	if !errors.Is(err, ErrNoModelConfig) {
		t.Fatalf("expected ErrNoModelConfig, got %v", err)
	}
}

func TestInitializeRejectsUnsupportedProvider(t *testing.T) {
	a, mock := newTestAgent(t)
	rows := sqlmock.NewRows([]string{"id", "user_id", "provider", "model", "api_key", "created_at"}).
		AddRow("mc1", "u1", "cohere", "command-r", "key", time.Now())
	mock.ExpectQuery("SELECT id, user_id, provider, model, api_key, created_at FROM model_configs").WillReturnRows(rows)

	if err := a.Initialize(context.Background(), "u1"); err == nil || !strings.Contains(err.Error(), "unsupported provider") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}

func TestRecommendStreamsAndKeepsPlaceholderInWindow(t *testing.T) {
	a, mock := newTestAgent(t)
	mock.ExpectQuery("SELECT DISTINCT").WillReturnRows(
		sqlmock.NewRows(agentCatalogColumns).
			AddRow(949, "Heat", "A heist saga.", 60000000, 187000000, 42.5,
				8.3, 6000, time.Date(1995, 12, 15, 0, 0, 0, 0, time.UTC), "heist",
				"Crime, Thriller", "Al Pacino, Robert De Niro", "Michael Mann"))

	fp := &fakeProvider{tokens: []string{"Try ", "Heat."}}
	a.provider = fp

	var emitted []string
	got := a.Recommend(context.Background(), "Recommend a good crime film", func(tok string) {
		emitted = append(emitted, tok)
	})

	if got != "Try Heat." {
		t.Fatalf("unexpected recommendation: %q", got)
	}
	if len(emitted) != 2 || emitted[0] != "Try " {
		t.Fatalf("unexpected token stream: %v", emitted)
	}

	msgs := a.WindowMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected one exchange in the window, got %d messages", len(msgs))
	}
	if msgs[0].Content != "Recommend a good crime film" {
		t.Fatalf("unexpected window user entry: %q", msgs[0].Content)
	}
	if msgs[1].Content != windowPlaceholder {
		t.Fatalf("window must store the placeholder, got %q", msgs[1].Content)
	}

	// The retrieval payload and raw query both reach the prompt.
	if len(fp.calls) != 1 {
		t.Fatalf("expected one stream call, got %d", len(fp.calls))
	}
	prompt := fp.calls[0][len(fp.calls[0])-1].Content
	if !strings.Contains(prompt, "Heat") || !strings.Contains(prompt, "SELECT DISTINCT") {
		t.Fatalf("prompt missing retrieval context:\n%s", prompt)
	}
}

func TestRecommendRetrievalFailureEmitsApology(t *testing.T) {
	a, mock := newTestAgent(t)
	mock.ExpectQuery("SELECT DISTINCT").WillReturnError(errors.New("connection reset"))
	a.provider = &fakeProvider{tokens: []string{"unused"}}

	var emitted []string
	got := a.Recommend(context.Background(), "Recommend a movie", func(tok string) {
		emitted = append(emitted, tok)
	})

	if got != apologyMessage {
		t.Fatalf("expected apology, got %q", got)
	}
	if len(emitted) != 1 || emitted[0] != apologyMessage {
		t.Fatalf("expected a single apology token, got %v", emitted)
	}
}

func TestRecommendMidStreamErrorAppendsInlineToken(t *testing.T) {
	a, mock := newTestAgent(t)
	mock.ExpectQuery("SELECT DISTINCT").WillReturnRows(sqlmock.NewRows(agentCatalogColumns))
	a.provider = &fakeProvider{tokens: []string{"Here is "}, terminal: errors.New("stream cut")}

	var emitted []string
	got := a.Recommend(context.Background(), "Recommend a movie", func(tok string) {
		emitted = append(emitted, tok)
	})

	if len(emitted) != 2 {
		t.Fatalf("expected prior token plus inline error, got %v", emitted)
	}
	if emitted[0] != "Here is " {
		t.Fatalf("prior tokens must not be retracted, got %v", emitted)
	}
	if !strings.Contains(emitted[1], "An error occurred while generating the response") {
		t.Fatalf("missing inline error token: %q", emitted[1])
	}
	if !strings.HasPrefix(got, "Here is ") {
		t.Fatalf("recommendation should retain streamed prefix: %q", got)
	}
}
