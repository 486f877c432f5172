package tokens

import (
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/agentgist/internal/errs"
)

// Role values for Message.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one entry of the conversation sent to a backend.
type Message struct {
	Role    string
	Content string
	// Pinned messages survive truncation like the system message.
	Pinned bool
}

func (m Message) mandatory() bool {
	return m.Role == RoleSystem || m.Pinned
}

// Truncate keeps every system and pinned message plus the most recent other
// messages that fit in budget, dropping the oldest first. The result keeps the
// original order and its rendered form (see Render) never exceeds budget.
// When the mandatory messages alone exceed budget it returns a
// BudgetUnsatisfiableError.
func Truncate(msgs []Message, budget int) ([]Message, error) {
	var used rendered
	for _, m := range msgs {
		if m.mandatory() {
			used = used.add(m.Content)
		}
	}
	if required := used.tokens(); required > budget {
		return nil, &errs.BudgetUnsatisfiableError{Budget: budget, Required: required}
	}

	keep := make([]bool, len(msgs))
	full := false
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.mandatory() {
			keep[i] = true
			continue
		}
		if full {
			continue
		}
		next := used.add(m.Content)
		if next.tokens() > budget {
			// Everything older than the first message that does not fit is dropped too.
			full = true
			continue
		}
		used = next
		keep[i] = true
	}

	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out, nil
}

// rendered tracks the size of a set of messages joined by Render. The total
// does not depend on order, so messages can be added newest first.
type rendered struct {
	count int
	chars int
}

func (r rendered) add(content string) rendered {
	r.chars += utf8.RuneCountInString(content)
	if r.count > 0 {
		r.chars += utf8.RuneCountInString(separator)
	}
	r.count++
	return r
}

func (r rendered) tokens() int {
	return estimateChars(r.chars)
}

const truncationMarker = "\n\n...[content truncated]...\n\n"

// TruncateText shortens s to roughly maxTokens by keeping its beginning, a
// slice from the middle and its end, joined by truncation markers. Text that
// already fits is returned unchanged.
func TruncateText(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Estimate(s) <= maxTokens {
		return s
	}

	runes := []rune(s)
	markerCost := 2 * Estimate(truncationMarker)
	avail := maxTokens - markerCost
	if avail < 3 {
		limit := maxTokens * charsPerToken
		return strings.TrimSpace(string(runes[:limit]))
	}

	part := (avail / 3) * charsPerToken
	intro := runes[:part]
	midStart := len(runes)/2 - part/2
	middle := runes[midStart : midStart+part]
	conclusion := runes[len(runes)-part:]
	return string(intro) + truncationMarker + string(middle) + truncationMarker + string(conclusion)
}
