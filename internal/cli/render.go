package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/lucasnoah/agentgist/internal/runstate"
)

// renderReport writes the report of rs as Markdown.
func renderReport(w io.Writer, rs *runstate.RunState) {
	rep := rs.Report()
	if rep == nil {
		return
	}

	title := rep.Title
	if title == "" {
		title = fmt.Sprintf("r/%s: %s", rs.Subreddit, rs.Query)
	}
	fmt.Fprintf(w, "# %s\n\n", title)
	fmt.Fprintf(w, "_r/%s, query %q, run %s_\n\n", rs.Subreddit, rs.Query, rs.ID)

	if len(rep.Takeaways) > 0 {
		fmt.Fprintln(w, "## Key takeaways")
		fmt.Fprintln(w)
		for _, t := range rep.Takeaways {
			fmt.Fprintf(w, "- %s\n", t)
		}
		fmt.Fprintln(w)
	}

	if rep.Summary != "" {
		fmt.Fprintln(w, "## Summary")
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.TrimSpace(rep.Summary))
		fmt.Fprintln(w)
	}

	if len(rep.Analyses) > 0 {
		fmt.Fprintln(w, "## Posts")
		fmt.Fprintln(w)
		for _, an := range rep.Analyses {
			heading := an.PostID
			if p, ok := rs.Post(an.PostID); ok {
				heading = p.Title
			}
			fmt.Fprintf(w, "### %s\n\n", heading)
			fmt.Fprintf(w, "Sentiment: %s (confidence %.2f)\n\n", an.Sentiment, an.Confidence)
			if an.Summary != "" {
				fmt.Fprintln(w, strings.TrimSpace(an.Summary))
				fmt.Fprintln(w)
			}
			for _, t := range an.KeyTakeaways {
				fmt.Fprintf(w, "- %s\n", t)
			}
			if len(an.Topics) > 0 {
				fmt.Fprintf(w, "\nTopics: %s\n", strings.Join(an.Topics, ", "))
			}
			if len(an.Controversies) > 0 {
				fmt.Fprintf(w, "\nDebated: %s\n", strings.Join(an.Controversies, "; "))
			}
			fmt.Fprintln(w)
		}
	}

	if len(rep.Failed) > 0 {
		fmt.Fprintln(w, "## Not analyzed")
		fmt.Fprintln(w)
		for _, f := range rep.Failed {
			name := f.Title
			if name == "" {
				name = f.PostID
			}
			fmt.Fprintf(w, "- %s: %s\n", name, f.Reason)
		}
		fmt.Fprintln(w)
	}

	if len(rep.References) > 0 {
		fmt.Fprintln(w, "## References")
		fmt.Fprintln(w)
		for i, r := range rep.References {
			fmt.Fprintf(w, "%d. [%s](%s)\n", i+1, r.Title, r.URL)
		}
	}
}
