package tokens

import "strings"

// Budget is the per-call prompt budget and the passes enabled for it.
type Budget struct {
	MaxTokens  int
	Simplify   bool
	Truncate   bool
	Preprocess bool
}

// Stats describes what Optimize did to a prompt.
type Stats struct {
	TokensBefore int `json:"tokens_before"`
	TokensAfter  int `json:"tokens_after"`
	Dropped      int `json:"dropped_messages"`
}

// Saved returns the estimated tokens removed.
func (s Stats) Saved() int {
	return s.TokensBefore - s.TokensAfter
}

// Optimize applies the enabled passes in order: preprocessing, phrase
// simplification, then truncation to the budget. The input slice is not
// modified.
func Optimize(msgs []Message, b Budget) ([]Message, Stats, error) {
	stats := Stats{TokensBefore: EstimateMessages(msgs)}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if b.Preprocess {
			out[i].Content = Preprocess(out[i].Content)
		}
		if b.Simplify {
			out[i].Content = Simplify(out[i].Content)
		}
	}

	if b.Truncate {
		kept, err := Truncate(out, b.MaxTokens)
		if err != nil {
			return nil, stats, err
		}
		stats.Dropped = len(out) - len(kept)
		out = kept
	}

	stats.TokensAfter = EstimateMessages(out)
	return out, stats, nil
}

// separator joins messages in Render.
const separator = "\n\n"

// Render joins message contents into a single prompt, system first.
func Render(msgs []Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, separator)
}
