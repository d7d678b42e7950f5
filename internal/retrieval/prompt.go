package retrieval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

const queryTemplate = `You are an intelligent data reasoning assistant.
You are given a list of documents retrieved from a vector database based on semantic similarity to a user query.
Read these documents carefully and produce the most relevant, accurate and concise answer to the query.

User Query:
{{.query}}

Retrieved Documents:
{{.search_results}}

Instructions:
1. Read all the documents and understand their context.
2. Use only the factual information from these documents to answer.
3. If documents overlap or conflict, reconcile them logically.
4. If none of the documents answer the query, say "No relevant information found."
5. Write the answer in clear, human-readable language. Do not echo database field names.

Output: plain text without escape sequences. At the end you may mention the date or dates of the source reports in a human-readable form.`

var queryPrompt = prompts.NewPromptTemplate(queryTemplate, []string{"query", "search_results"})

// NoResultsAnswer is returned without an LLM call when nothing matched.
const NoResultsAnswer = "No relevant information found."

func buildAnswerPrompt(query string, hits []Hit) (string, error) {
	out, err := queryPrompt.Format(map[string]any{
		"query":          query,
		"search_results": formatHits(hits),
	})
	if err != nil {
		return "", fmt.Errorf("render query prompt: %w", err)
	}
	return out, nil
}

func formatHits(hits []Hit) string {
	var b strings.Builder
	for i, h := range hits {
		doc := map[string]any{
			"source":    h.Collection,
			"report_id": h.ReportID,
			"record":    h.Record,
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, raw)
	}
	return b.String()
}
