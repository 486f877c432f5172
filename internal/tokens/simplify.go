package tokens

import "strings"

// phraseTable maps verbose phrases to shorter equivalents with the same meaning.
// Replacements are case-sensitive.
var phraseTable = []struct{ from, to string }{
	{"in order to", "to"},
	{"for the purpose of", "to"},
	{"a large number of", "many"},
	{"a significant amount of", "much"},
	{"at this point in time", "now"},
	{"due to the fact that", "because"},
	{"in the event that", "if"},
}

// maxSimplifyPasses bounds the fixpoint loop. Every replacement shortens the
// text, so the loop always terminates well before this.
const maxSimplifyPasses = 32

// Simplify replaces verbose phrases from the fixed table until no phrase
// remains, so Simplify(Simplify(s)) == Simplify(s).
func Simplify(s string) string {
	for i := 0; i < maxSimplifyPasses; i++ {
		next := s
		for _, p := range phraseTable {
			next = strings.ReplaceAll(next, p.from, p.to)
		}
		if next == s {
			return s
		}
		s = next
	}
	return s
}
