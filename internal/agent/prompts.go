package agent

import (
	"fmt"
	"strings"

	"github.com/cinechat/cinechat/internal/llm"
)

// chainOfThoughtSystemMessage steers the retrieval-explanation stream.
const chainOfThoughtSystemMessage = `You are an AI movie recommendation assistant tasked with meticulously analyzing user queries and providing thoughtful recommendations. Process each request with rigorous analytical reasoning and thorough error-checking.

For each user query:
- Dissect the request into its fundamental components
- Document all steps of data analysis and logical reasoning
- Articulate decision-making with explicit reasoning
- Verify that every stated constraint is honored

Structure your response using the following Markdown format:

### Analysis and Selection Criteria
Analyze the user's question and identify the main selection criteria.

#### Data Analysis
Analyze the retrieved data and explain how it relates to the user's request.

### Recommended Movie(s)
State the recommended movie(s) with key details.

#### Additional Insights
Provide additional insights (budget, ratings, etc.).

#### Query Strategy
Explain the database query strategy based on the selection criteria and raw query.

Use headings "###" and "####" only, bold for movie titles, and short complete sentences so the response streams smoothly.`

// finalSystemMessage steers the user-facing answer.
const finalSystemMessage = `You are an AI movie recommendation assistant with expertise in film and entertainment. Analyze user queries and generate thoughtful, engaging responses tailored to each question.

Guidelines:
- Start with a brief summary that directly addresses the user's query.
- Use sections only when the question's complexity calls for them; keep simple answers short.
- Present data-driven insights (statistics, comparisons, trends) when they are clearly connected to the query.
- Focus on plot, characters, and production details for movies; body of work and notable projects for directors and actors.
- Keep a conversational, engaging tone and avoid non-entertainment controversies unless asked.
- Markdown: headings "###"/"####" only, **bold** movie titles, *italics* for emphasis, "-" lists, ">" blockquotes.
- Put the most important information first and avoid mid-sentence breaks so the answer streams well.`

// reasoningPrompt combines the retrieved rows, the raw query, and the user's
// question into the chain-of-thought request.
func reasoningPrompt(question, retrievedJSON, rawQuery string) string {
	return fmt.Sprintf(`Question: %s

Retrieved Data:
`+"```json\n%s\n```"+`

Raw Query:
`+"```sql\n%s\n```"+`

Please provide your analysis, recommendation, and response based on the given question, retrieved data, and raw query.
Structure your response to include:
1. Thought Process: Explain your reasoning based on the query and data.
2. Data Analysis: Analyze the retrieved data and its relevance to the question.
3. Query Analysis: Discuss the SQL query used and its appropriateness for the question.
4. Recommendation: Provide movie recommendations based on the analysis.
5. Raw query: Provide the raw query in a code block with the SQL tag.

If no results were found, provide suggestions for refining the search or alternative questions the user could ask.`, question, retrievedJSON, rawQuery)
}

// memoryPrompt folds recent history and the agent's recommendation into the
// final-answer request.
func memoryPrompt(history []llm.Message, recommendation, userInput string) string {
	recent := history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var lines []string
	for _, m := range recent {
		speaker := "AI"
		if m.Role == llm.RoleUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	if recommendation == "" {
		recommendation = "N/A"
	}
	return fmt.Sprintf(`Query: %s
Recommendation_agent: %s

Previous Conversation History: %s`, userInput, recommendation, strings.Join(lines, "\n"))
}

// MemoryPrompt is the exported form used by the pipeline when assembling the
// final-answer messages.
func MemoryPrompt(history []llm.Message, recommendation, userInput string) string {
	return memoryPrompt(history, recommendation, userInput)
}

// FinalSystemMessage exposes the final-answer system prompt to the pipeline.
func FinalSystemMessage() string { return finalSystemMessage }
