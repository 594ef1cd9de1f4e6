package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultLimit is used when the question carries no usable result-size hint.
const DefaultLimit = 5

// SearchSpec is the parameterized intermediate form of a catalog query:
// a template with :name placeholders plus the bound parameter mapping.
// Every placeholder referenced by Template must have a key in Params.
type SearchSpec struct {
	Template string
	Params   map[string]any
	Limit    int
	Tags     []QueryTag
}

var (
	limitRE       = regexp.MustCompile(`(?i)top\s+(-?\d+)|(-?\d+)\s+(actors|movies|films|results)`)
	nameRE        = regexp.MustCompile(`\b([A-Z][a-z]+ (?:[A-Z][a-z]+ )?[A-Z][a-z]+)\b`)
	yearRE        = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	languageRE    = regexp.MustCompile(`in ([\w\s]+)`)
	placeholderRE = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// knownGenres is the closed list matched for genre predicates.
var knownGenres = []string{
	"Action", "Adventure", "Animation", "Comedy", "Crime", "Documentary", "Drama", "Family",
	"Fantasy", "History", "Horror", "Music", "Mystery", "Romance", "Science Fiction",
	"TV Movie", "Thriller", "War", "Western",
}

// genreAliases maps colloquial genre spellings to the canonical lower-cased
// catalog genre name.
var genreAliases = map[string]string{
	"sci-fi": "science fiction",
	"sci fi": "science fiction",
	"scifi":  "science fiction",
}

func mentionsKnownGenre(q string) bool {
	for _, genre := range knownGenres {
		if genreMentioned(q, genre) {
			return true
		}
	}
	return false
}

func genreMentioned(q, genre string) bool {
	lower := strings.ToLower(genre)
	if strings.Contains(q, lower) {
		return true
	}
	for alias, canonical := range genreAliases {
		if canonical == lower && strings.Contains(q, alias) {
			return true
		}
	}
	return false
}

const baseQuery = `SELECT DISTINCT m.id, m.title, m.overview, m.budget, m.revenue, m.popularity,
       m.vote_average, m.vote_count, m.release_date, m.keywords,
       string_agg(DISTINCT g.name, ', ') AS genres,
       (SELECT string_agg(name, ', ')
        FROM (SELECT DISTINCT a.name
              FROM movie_actor ma
              JOIN actors a ON ma.actor_id = a.id
              WHERE ma.movie_id = m.id
              ORDER BY a.name
              LIMIT :actor_limit) AS top_actors
       ) AS top_actors,
       d.name AS director
FROM movies m
LEFT JOIN movie_genre mg ON m.id = mg.movie_id
LEFT JOIN genres g ON mg.genre_id = g.id
LEFT JOIN movie_actor ma ON m.id = ma.movie_id
LEFT JOIN actors a ON ma.actor_id = a.id
LEFT JOIN directors d ON m.director_id = d.id
WHERE 1=1`

// ExtractLimit scans for "top N" or "N movies/films/actors/results" hints.
// Non-positive N falls back to the default.
func ExtractLimit(question string) int {
	m := limitRE.FindStringSubmatch(question)
	if m == nil {
		return DefaultLimit
	}
	for _, group := range m[1:] {
		if group == "" {
			continue
		}
		if n, err := strconv.Atoi(group); err == nil {
			if n <= 0 {
				return DefaultLimit
			}
			return n
		}
		break
	}
	return DefaultLimit
}

// ExtractName pulls a 2-3 token capitalized word sequence out of the question,
// used as an actor/director name heuristic.
func ExtractName(question string) string {
	if m := nameRE.FindStringSubmatch(question); m != nil {
		return m[1]
	}
	return ""
}

// Build incrementally constructs a SearchSpec from the classified tags and the
// raw question. Predicates accumulate in tag-table order and are conjoined
// with AND; genre and fallback term groups are OR'd internally.
func Build(tags []QueryTag, question string) *SearchSpec {
	q := strings.ToLower(question)
	limit := ExtractLimit(question)

	var conditions []string
	var orderBy []string
	params := map[string]any{"actor_limit": limit}

	if hasTag(tags, TagFinancial) {
		switch {
		case strings.Contains(q, "high budget"):
			conditions = append(conditions, "m.budget > 0")
			orderBy = append(orderBy, "m.budget DESC")
		case strings.Contains(q, "low budget"):
			conditions = append(conditions, "m.budget > 0")
			orderBy = append(orderBy, "m.budget ASC")
		case strings.Contains(q, "high revenue"):
			conditions = append(conditions, "m.revenue > 0")
			orderBy = append(orderBy, "m.revenue DESC")
		case strings.Contains(q, "low revenue"):
			conditions = append(conditions, "m.revenue > 0")
			orderBy = append(orderBy, "m.revenue ASC")
		case strings.Contains(q, "profit"):
			conditions = append(conditions, "m.revenue > 0 AND m.budget > 0")
			orderBy = append(orderBy, "(m.revenue - m.budget) DESC")
		default:
			orderBy = append(orderBy, "m.revenue DESC")
		}
	}

	if hasTag(tags, TagPopularity) {
		switch {
		case strings.Contains(q, "rating") || strings.Contains(q, "vote"):
			orderBy = append(orderBy, "m.vote_average DESC", "m.vote_count DESC")
		case strings.Contains(q, "trending"):
			orderBy = append(orderBy, "m.popularity DESC", "m.release_date DESC")
		default:
			orderBy = append(orderBy, "m.popularity DESC")
		}
	}

	if hasTag(tags, TagGenre) {
		var genreConds []string
		for i, genre := range knownGenres {
			if genreMentioned(q, genre) {
				key := fmt.Sprintf("genre_%d", i)
				genreConds = append(genreConds, fmt.Sprintf("LOWER(g.name) = :%s", key))
				params[key] = strings.ToLower(genre)
			}
		}
		if len(genreConds) > 0 {
			conditions = append(conditions, "("+strings.Join(genreConds, " OR ")+")")
		}
	}

	if hasTag(tags, TagActor) {
		if name := ExtractName(question); name != "" {
			conditions = append(conditions, "LOWER(a.name) LIKE LOWER(:actor_name)")
			params["actor_name"] = "%" + name + "%"
		}
	}

	if hasTag(tags, TagDirector) {
		if name := ExtractName(question); name != "" {
			conditions = append(conditions, "LOWER(d.name) LIKE LOWER(:director_name)")
			params["director_name"] = "%" + name + "%"
		}
	}

	if hasTag(tags, TagReleaseDate) {
		if y := yearRE.FindString(question); y != "" {
			year, _ := strconv.Atoi(y)
			conditions = append(conditions, "EXTRACT(YEAR FROM m.release_date) = :year")
			params["year"] = year
		} else if strings.Contains(q, "recent") || strings.Contains(q, "latest") {
			conditions = append(conditions, "m.release_date >= (CURRENT_DATE - INTERVAL '2 years')")
			orderBy = append(orderBy, "m.release_date DESC")
		} else if strings.Contains(q, "old") || strings.Contains(q, "classic") {
			conditions = append(conditions, "EXTRACT(YEAR FROM m.release_date) < 1980")
			orderBy = append(orderBy, "m.release_date ASC")
		}
	}

	if hasTag(tags, TagAwards) {
		conditions = append(conditions, "(m.keywords LIKE '%award%' OR m.keywords LIKE '%nominated%')")
	}

	if hasTag(tags, TagLanguage) {
		if m := languageRE.FindStringSubmatch(q); m != nil {
			conditions = append(conditions, "LOWER(m.original_language) = :lang")
			params["lang"] = strings.ToLower(strings.TrimSpace(m[1]))
		}
	}

	if hasTag(tags, TagDuration) {
		if strings.Contains(q, "short") {
			conditions = append(conditions, "m.runtime <= 90")
		} else if strings.Contains(q, "long") {
			conditions = append(conditions, "m.runtime >= 150")
		}
	}

	if hasTag(tags, TagFranchise) {
		conditions = append(conditions, "(m.keywords LIKE '%sequel%' OR m.keywords LIKE '%series%')")
	}

	// Generic full-text fallback when no tag-specific predicate bound anything.
	if len(conditions) == 0 {
		var termConds []string
		i := 0
		for _, term := range strings.Fields(q) {
			if len(term) <= 2 {
				continue
			}
			key := fmt.Sprintf("term_%d", i)
			termConds = append(termConds,
				fmt.Sprintf("LOWER(m.title) LIKE :%s OR LOWER(m.overview) LIKE :%s OR LOWER(m.keywords) LIKE :%s", key, key, key))
			params[key] = "%" + term + "%"
			i++
		}
		if len(termConds) > 0 {
			conditions = append(conditions, "("+strings.Join(termConds, " OR ")+")")
		}
	}

	query := baseQuery
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " GROUP BY m.id, d.name"
	if len(orderBy) > 0 {
		query += " ORDER BY " + strings.Join(orderBy, ", ")
	} else {
		query += " ORDER BY m.popularity DESC"
	}
	query += " LIMIT :result_limit"
	params["result_limit"] = limit

	return &SearchSpec{Template: query, Params: params, Limit: limit, Tags: tags}
}

// Placeholders returns the distinct :name placeholders referenced by the
// template, in first-appearance order.
func (s *SearchSpec) Placeholders() []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRE.FindAllStringSubmatch(s.Template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Validate reports placeholders with no bound parameter. Such a reference is a
// builder defect, not a runtime condition to recover from.
func (s *SearchSpec) Validate() error {
	var missing []string
	for _, name := range s.Placeholders() {
		if _, ok := s.Params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("unbound query parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Rebind converts the named-placeholder template into a positional ($n) query
// plus an argument list ordered by first appearance.
func (s *SearchSpec) Rebind() (string, []any, error) {
	if err := s.Validate(); err != nil {
		return "", nil, err
	}
	positions := map[string]int{}
	var args []any
	query := placeholderRE.ReplaceAllStringFunc(s.Template, func(ph string) string {
		name := ph[1:]
		idx, ok := positions[name]
		if !ok {
			args = append(args, s.Params[name])
			idx = len(args)
			positions[name] = idx
		}
		return "$" + strconv.Itoa(idx)
	})
	return query, args, nil
}
