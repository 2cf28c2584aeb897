package classifier

import (
	"encoding/json"
	"fmt"
)

const systemPrompt = `You are an expert in customer segmentation.
You will receive:
1. A ranked list of user interests (most important first).
2. A list of predefined cohorts.

Your task is to:
- Analyze which cohorts are relevant to the user.
- Return a JSON array where each item is an object containing:
  - "cohort": the name of the cohort as a string.
  - "similarity_score": a numeric similarity score between 0 and 1, strictly rounded to 2 decimal places, where higher means more relevant.

Only include cohorts where the similarity_score is at least 0.1.

If none of the user's interests match any cohort, return the most appropriate cohort(s) with a low similarity score (e.g., 0.1), ensuring the array is never empty.

Important:
- Respond with only valid compact JSON, no explanations, no extra text.
- Example expected output:
[
  {"cohort": "outdoor", "similarity_score": 0.92},
  {"cohort": "fitness", "similarity_score": 0.35}
]`

const userPromptFormat = `User interests (ranked from most important to least):
%s

Available cohorts:
%s

The returned response should only have the above mentioned cohorts.
If none of the interests match any cohort, still return the most appropriate cohort(s) with a low similarity score (e.g., 0.1), so the array is never empty.
Only return a valid JSON array (with minimum array length 1) DO NOT give anything else.`

// buildUserPrompt renders the ranked interests and the candidate catalogue as
// JSON arrays inside the user prompt.
func buildUserPrompt(interests []string, catalogue *Catalogue) string {
	interestsJSON, _ := json.Marshal(interests)
	catalogueJSON, _ := json.Marshal(catalogue.Names())
	return fmt.Sprintf(userPromptFormat, interestsJSON, catalogueJSON)
}
