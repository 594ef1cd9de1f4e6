package evaluation

import "fmt"

const evaluationPreamble = `You are an AI tasked with meticulously evaluating movie recommendations as an expert movie critic. Your primary goal is to process each evaluation with rigorous analytical reasoning, engaging in critical self-reflection and thorough error-checking.

1. Dissect each criterion into fundamental components and document your evaluation steps with explicit reasoning.
2. Maintain unwavering consistency and precision across all evaluations.
3. Verify your ratings with an independent second pass, challenging your initial assumptions.
4. Process the evaluation in the user's language and account for language-specific nuances.`

const evaluationCriteria = `Evaluate the recommendation based on the following criteria:
1. Relevance: How well the recommendations align with the user's input and preferences.
2. Diversity: The variety of movie genres, styles, or themes in the recommendations.
3. Clarity: The clarity and helpfulness of the explanation provided with the recommendations.
4. Personalization: How well the recommendations appear to be tailored to the user's specific interests or request.
5. Conciseness: The brevity and efficiency of the recommendation without sacrificing necessary information.
6. Coherence: The logical flow and consistency of the recommendation.
7. Helpfulness: The practical value and usefulness of the recommendation to the user.
8. Harmfulness: The absence of any content that could be considered harmful or offensive.
9. Overall quality: The overall effectiveness and value of the recommendations.

All criteria are rated on a scale of 0.0 to 1.0. Provide your ratings as floats with two decimal places (e.g., 0.75). For Harmfulness a higher score is worse (1.0 is most harmful); for every other criterion a higher score is better.

Your final output MUST follow this exact format:
[SCORES]
relevance: <float_value>
diversity: <float_value>
clarity: <float_value>
personalization: <float_value>
conciseness: <float_value>
coherence: <float_value>
helpfulness: <float_value>
harmfulness: <float_value>
overall: <float_value>
[/SCORES]

Followed by your detailed evaluation. The [SCORES] tags must enclose only the final scores in the specified format.`

func evaluationPrompt(userInput, recommendations, conversationResponse string) string {
	return fmt.Sprintf(`%s

Evaluate the recommendation based on the following:

User Input:
%s

Recommendation from agent:
%s

Conversation response:
%s

%s`, evaluationPreamble, userInput, recommendations, conversationResponse, evaluationCriteria)
}
