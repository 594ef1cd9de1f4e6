package catalog

import "strings"

// QueryTag labels what aspect of a movie a question is probing.
type QueryTag string

const (
	TagFinancial      QueryTag = "financial"
	TagPopularity     QueryTag = "popularity"
	TagGenre          QueryTag = "genre"
	TagActor          QueryTag = "actor"
	TagDirector       QueryTag = "director"
	TagReleaseDate    QueryTag = "release_date"
	TagPlot           QueryTag = "plot"
	TagRecommendation QueryTag = "recommendation"
	TagAwards         QueryTag = "awards"
	TagLanguage       QueryTag = "language"
	TagDuration       QueryTag = "duration"
	TagProduction     QueryTag = "production"
	TagFranchise      QueryTag = "franchise"
	TagTheme          QueryTag = "theme"
	TagCinematography QueryTag = "cinematography"
	TagSoundtrack     QueryTag = "soundtrack"
	TagGeneral        QueryTag = "general"
)

type classificationRule struct {
	tag      QueryTag
	keywords []string
}

// Table order defines emission order.
var classificationRules = []classificationRule{
	{TagFinancial, []string{"budget", "revenue", "profit", "box office", "earnings", "cost", "gross", "net", "financial", "money"}},
	{TagPopularity, []string{"popular", "rating", "vote", "liked", "favorite", "trending", "well-received", "acclaimed", "hit"}},
	{TagGenre, []string{"genre", "category", "type", "kind of movie", "style of film"}},
	{TagActor, []string{"actor", "star", "cast", "performer", "actress"}},
	{TagDirector, []string{"director", "filmmaker", "directed by", "helmed by"}},
	{TagReleaseDate, []string{"release", "year", "when", "came out", "debut", "premiered"}},
	{TagPlot, []string{"plot", "story", "about", "synopsis", "narrative", "storyline"}},
	{TagRecommendation, []string{"recommend", "suggest", "similar", "like", "comparable", "akin to"}},
	{TagAwards, []string{"award", "oscar", "golden globe", "emmy", "nominated", "won"}},
	{TagLanguage, []string{"language", "spoken in", "subtitle", "dub"}},
	{TagDuration, []string{"duration", "length", "how long", "runtime"}},
	{TagProduction, []string{"production company", "studio", "produced by"}},
	{TagFranchise, []string{"franchise", "series", "sequel", "prequel"}},
	{TagTheme, []string{"theme", "message", "moral", "underlying"}},
	{TagCinematography, []string{"cinematography", "visuals", "shot", "filmed"}},
	{TagSoundtrack, []string{"soundtrack", "music", "score", "composer"}},
}

// Classify maps a free-text question to an ordered set of query tags. A tag is
// emitted once when any of its keywords appears as a substring of the
// lower-cased question; the genre tag additionally fires on any known genre
// name or alias so that "sci-fi movies" reaches the genre predicates. No
// matches yields exactly "general".
func Classify(question string) []QueryTag {
	q := strings.ToLower(question)
	var tags []QueryTag
	for _, rule := range classificationRules {
		matched := containsAny(q, rule.keywords)
		if !matched && rule.tag == TagGenre {
			matched = mentionsKnownGenre(q)
		}
		if matched {
			tags = append(tags, rule.tag)
		}
	}
	if len(tags) == 0 {
		tags = append(tags, TagGeneral)
	}
	return tags
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func hasTag(tags []QueryTag, tag QueryTag) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
