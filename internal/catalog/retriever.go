package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CatalogRow is one normalized movie record produced by a retrieval. Rows are
// read-only to downstream stages.
type CatalogRow struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	Budget      int64   `json:"budget"`
	Revenue     int64   `json:"revenue"`
	Popularity  float64 `json:"popularity"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int64   `json:"vote_count"`
	ReleaseDate string  `json:"release_date"`
	Keywords    string  `json:"keywords"`
	Genres      string  `json:"genres"`
	TopActors   string  `json:"top_actors"`
	Director    string  `json:"director"`
}

// Retriever executes built search specs against the movie catalog. Cache is
// optional; when present, normalized rows are kept under a template+params
// hash for a short TTL and cache failures never surface.
type Retriever struct {
	DB       *sql.DB
	Cache    *redis.Client
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewRetriever wires a retriever over the catalog database.
func NewRetriever(db *sql.DB, cache *redis.Client, ttl time.Duration) *Retriever {
	return &Retriever{
		DB:       db,
		Cache:    cache,
		CacheTTL: ttl,
		Logger:   log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
}

// Retrieve runs the spec and normalizes the result set. Zero matching rows is
// an empty slice, not an error; a store failure is terminal for the turn.
func (r *Retriever) Retrieve(ctx context.Context, spec *SearchSpec) ([]CatalogRow, error) {
	key := r.cacheKey(spec)
	if rows, ok := r.cacheGet(ctx, key); ok {
		return rows, nil
	}

	query, args, err := spec.Rebind()
	if err != nil {
		return nil, fmt.Errorf("rebind search spec: %w", err)
	}

	dbRows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	defer dbRows.Close()

	rows := []CatalogRow{}
	for dbRows.Next() {
		var (
			row         CatalogRow
			overview    sql.NullString
			budget      sql.NullInt64
			revenue     sql.NullInt64
			popularity  sql.NullFloat64
			voteAverage sql.NullFloat64
			voteCount   sql.NullInt64
			releaseDate sql.NullTime
			keywords    sql.NullString
			genres      sql.NullString
			topActors   sql.NullString
			director    sql.NullString
		)
		if err := dbRows.Scan(&row.ID, &row.Title, &overview, &budget, &revenue, &popularity,
			&voteAverage, &voteCount, &releaseDate, &keywords, &genres, &topActors, &director); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		row.Overview = overview.String
		row.Budget = budget.Int64
		row.Revenue = revenue.Int64
		row.Popularity = popularity.Float64
		row.VoteAverage = voteAverage.Float64
		row.VoteCount = voteCount.Int64
		if releaseDate.Valid {
			row.ReleaseDate = releaseDate.Time.Format("2006-01-02")
		}
		row.Keywords = keywords.String
		row.Genres = genres.String
		row.TopActors = topActors.String
		row.Director = director.String
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("catalog rows: %w", err)
	}

	r.cacheSet(ctx, key, rows)
	return rows, nil
}

func (r *Retriever) cacheKey(spec *SearchSpec) string {
	params, _ := json.Marshal(spec.Params)
	sum := sha256.Sum256(append([]byte(spec.Template), params...))
	return "catalog:rows:" + hex.EncodeToString(sum[:])
}

func (r *Retriever) cacheGet(ctx context.Context, key string) ([]CatalogRow, bool) {
	if r.Cache == nil {
		return nil, false
	}
	raw, err := r.Cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.Logger.Printf("cache get failed: %v", err)
		}
		return nil, false
	}
	var rows []CatalogRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		r.Logger.Printf("cache decode failed: %v", err)
		return nil, false
	}
	return rows, true
}

func (r *Retriever) cacheSet(ctx context.Context, key string, rows []CatalogRow) {
	if r.Cache == nil {
		return
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	ttl := r.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if err := r.Cache.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.Logger.Printf("cache set failed: %v", err)
	}
}
