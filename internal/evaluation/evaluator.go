package evaluation

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/cinechat/cinechat/config"
	"github.com/cinechat/cinechat/internal/catalog"
	"github.com/cinechat/cinechat/internal/llm"
	"github.com/cinechat/cinechat/internal/store"
	"github.com/cinechat/cinechat/internal/trace"
)

// metricNames is the fixed nine-metric set every evaluation reports.
var metricNames = []string{
	"relevance", "diversity", "clarity", "personalization", "conciseness",
	"coherence", "helpfulness", "harmfulness", "overall",
}

var scoresBlockRE = regexp.MustCompile(`(?s)\[SCORES\](.*?)\[/SCORES\]`)

// Result carries the judge's scores plus one human-readable comment per
// metric. A failed evaluation still yields a Result, never an error.
type Result struct {
	Metrics  map[string]float64 `json:"metrics"`
	Comments map[string]string  `json:"comments"`
}

// Input is the snapshot of one finished turn handed to the evaluator.
type Input struct {
	ConversationID       string
	UserInput            string
	Recommendations      []catalog.CatalogRow
	ConversationResponse string
}

// Evaluator scores finished turns with a fixed judge model and persists the
// outcome keyed by conversation. It runs outside the answer path: nothing it
// does can delay or fail a user-visible response.
type Evaluator struct {
	Store  *store.Store
	Judge  llm.Provider
	Trace  trace.Sink
	Logger *log.Logger
}

// New constructs an evaluator with its own judge client, independent of any
// user-configured model.
func New(st *store.Store, cfg config.EvaluationConfig, llmCfg config.LLMConfig, sink trace.Sink) (*Evaluator, error) {
	judge, err := llm.New(cfg.Provider, cfg.Model, cfg.APIKey, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("construct judge model: %w", err)
	}
	if sink == nil {
		sink = trace.Noop{}
	}
	return &Evaluator{
		Store:  st,
		Judge:  judge,
		Trace:  sink,
		Logger: log.New(log.Writer(), "[EVAL] ", log.LstdFlags),
	}, nil
}

// Evaluate asks the judge to score one turn and reports every metric to the
// trace sink. Judge failures and malformed responses degrade to the all-zero
// metric set.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) Result {
	prompt := evaluationPrompt(in.UserInput, formatRecommendations(in.Recommendations), in.ConversationResponse)

	response, err := e.Judge.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		e.Logger.Printf("judge generation failed: %v", err)
		response = ""
	}

	metrics := extractScores(response)
	comments := make(map[string]string, len(metrics))
	for name, value := range metrics {
		comment := fmt.Sprintf("%s Score: %.2f", capitalize(name), value)
		comments[name] = comment
		e.Trace.Score(ctx, name, value, comment)
	}
	return Result{Metrics: metrics, Comments: comments}
}

// EvaluateAndStore runs Evaluate and upserts the result for the conversation.
// A turn that is re-evaluated replaces the previous record rather than
// accumulating a second one.
func (e *Evaluator) EvaluateAndStore(ctx context.Context, in Input, mc store.ModelConfig) Result {
	result := e.Evaluate(ctx, in)
	err := e.Store.UpsertEvaluation(ctx, store.EvaluationRecord{
		ConversationID: in.ConversationID,
		ModelConfigID:  mc.ID,
		ModelName:      mc.Model,
		Metrics:        result.Metrics,
		Comments:       result.Comments,
	})
	if err != nil {
		e.Logger.Printf("store evaluation for conversation %s: %v", in.ConversationID, err)
	} else {
		e.Logger.Printf("evaluation stored for conversation %s", in.ConversationID)
	}
	return result
}

// formatRecommendations renders at most five retrieved rows as
// "Title (Year): Overview" lines for the judge prompt.
func formatRecommendations(rows []catalog.CatalogRow) string {
	if len(rows) > 5 {
		rows = rows[:5]
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		year := ""
		if len(row.ReleaseDate) >= 4 {
			year = row.ReleaseDate[:4]
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", row.Title, year, row.Overview))
	}
	return strings.Join(lines, "\n")
}

// extractScores parses the [SCORES] block. A missing block, an unparsable
// line, or a judge failure all collapse to the all-zero metric set; parsed
// values are clamped to [0, 1].
func extractScores(response string) map[string]float64 {
	m := scoresBlockRE.FindStringSubmatch(response)
	if m == nil {
		return zeroScores()
	}
	scores := map[string]float64{}
	for _, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
		key, raw, ok := strings.Cut(line, ":")
		if !ok {
			return zeroScores()
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return zeroScores()
		}
		scores[strings.TrimSpace(key)] = clamp(value)
	}
	if len(scores) == 0 {
		return zeroScores()
	}
	return scores
}

func zeroScores() map[string]float64 {
	scores := make(map[string]float64, len(metricNames))
	for _, name := range metricNames {
		scores[name] = 0.0
	}
	return scores
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
