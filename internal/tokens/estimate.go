// Package tokens reduces prompt size before inference: phrase simplification,
// whitespace preprocessing and budget-bounded context truncation.
package tokens

import "unicode/utf8"

// charsPerToken is the heuristic used for every estimate in a run.
const charsPerToken = 4

// Estimate returns the approximate token count of s.
func Estimate(s string) int {
	return estimateChars(utf8.RuneCountInString(s))
}

func estimateChars(n int) int {
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateMessages returns the approximate token count of msgs as Render
// joins them, separators included.
func EstimateMessages(msgs []Message) int {
	return Estimate(Render(msgs))
}
