package tokens

import "strings"

// Preprocess removes formatting noise: trailing whitespace, runs of spaces and
// tabs inside a line, and more than one consecutive blank line. Line structure
// and words are kept.
func Preprocess(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		indent := leadingIndent(line)
		body := strings.Join(strings.Fields(line), " ")
		if body == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, indent+body)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// leadingIndent keeps nesting for indented lines such as comment replies,
// normalized to spaces.
func leadingIndent(line string) string {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 2
		default:
			return strings.Repeat(" ", n)
		}
	}
	return ""
}
