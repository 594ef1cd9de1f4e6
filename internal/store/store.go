package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Message roles persisted in the conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// uniqueViolation is the postgres error code for duplicate-key conflicts.
const uniqueViolation = "23505"

type Store struct {
	DB *sql.DB
}

// ModelConfig is a user's chosen LLM provider/model and credential.
type ModelConfig struct {
	ID        string
	UserID    string
	Provider  string
	Model     string
	APIKey    string
	CreatedAt time.Time
}

// EvaluationRecord is one scored turn; at most one exists per conversation.
type EvaluationRecord struct {
	ConversationID string
	ModelConfigID  string
	ModelName      string
	Metrics        map[string]float64
	Comments       map[string]string
}

// NewWithDSN opens and pings a postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// UserExists reports whether the given user id is known.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=$1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveModelConfig records a new model configuration for the user. The latest
// row wins; older rows are kept for audit.
func (s *Store) SaveModelConfig(ctx context.Context, userID, provider, model, apiKey string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO model_configs (user_id, provider, model, api_key) VALUES ($1,$2,$3,$4) RETURNING id`,
		userID, provider, model, apiKey).Scan(&id)
	return id, err
}

// LatestModelConfig returns the user's newest model configuration.
func (s *Store) LatestModelConfig(ctx context.Context, userID string) (ModelConfig, bool, error) {
	var mc ModelConfig
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, provider, model, api_key, created_at FROM model_configs WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1`,
		userID).Scan(&mc.ID, &mc.UserID, &mc.Provider, &mc.Model, &mc.APIKey, &mc.CreatedAt)
	if err == sql.ErrNoRows {
		return ModelConfig{}, false, nil
	}
	if err != nil {
		return ModelConfig{}, false, err
	}
	return mc, true, nil
}

// GetOrCreateOpenConversation reuses the user's conversation with no end time
// before creating a new one.
func (s *Store) GetOrCreateOpenConversation(ctx context.Context, userID, modelConfigID string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE user_id=$1 AND end_time IS NULL ORDER BY start_time DESC LIMIT 1`,
		userID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}
	err = s.DB.QueryRowContext(ctx,
		`INSERT INTO conversations (user_id, model_config_id) VALUES ($1,$2) RETURNING id`,
		userID, modelConfigID).Scan(&id)
	return id, err
}

// CloseConversation stamps the end time; closed conversations are never reused.
func (s *Store) CloseConversation(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE conversations SET end_time=now() WHERE id=$1 AND end_time IS NULL`, id)
	return err
}

// CloseConversationForUser closes an open conversation only if it belongs to
// the given user. Reports whether a row was actually closed.
func (s *Store) CloseConversationForUser(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE conversations SET end_time=now() WHERE id=$1 AND user_id=$2 AND end_time IS NULL`,
		id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CloseIdleConversations closes open conversations whose latest activity is
// older than the cutoff. Returns the number of conversations closed.
func (s *Store) CloseIdleConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE conversations SET end_time=now()
		 WHERE end_time IS NULL
		   AND COALESCE((SELECT max(m.created_at) FROM messages m WHERE m.conversation_id=conversations.id), start_time) < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateMessage appends one message to the conversation log.
func (s *Store) CreateMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content) VALUES ($1,$2,$3)`,
		conversationID, role, content)
	return err
}

// UpsertEvaluation stores the metrics for a conversation. A duplicate-key
// conflict means the conversation was already evaluated; the existing row is
// updated with the new scores instead.
func (s *Store) UpsertEvaluation(ctx context.Context, rec EvaluationRecord) error {
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	comments, err := json.Marshal(rec.Comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO model_evaluations (model_config_id, model_name, conversation_id, metrics, comments) VALUES ($1,$2,$3,$4,$5)`,
		rec.ModelConfigID, rec.ModelName, rec.ConversationID, metrics, comments)
	if err == nil {
		return nil
	}
	if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == uniqueViolation {
		_, err = s.DB.ExecContext(ctx,
			`UPDATE model_evaluations SET metrics=$1, comments=$2, model_name=$3, created_at=now() WHERE conversation_id=$4`,
			metrics, comments, rec.ModelName, rec.ConversationID)
		return err
	}
	return err
}

// GetEvaluation loads the stored metrics for a conversation.
func (s *Store) GetEvaluation(ctx context.Context, conversationID string) (map[string]float64, bool, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT metrics FROM model_evaluations WHERE conversation_id=$1`, conversationID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var metrics map[string]float64
	if err := json.Unmarshal(raw, &metrics); err != nil {
		return nil, false, err
	}
	return metrics, true, nil
}
