package stage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lucasnoah/agentgist/internal/errs"
	"github.com/lucasnoah/agentgist/internal/prompt"
	"github.com/lucasnoah/agentgist/internal/router"
	"github.com/lucasnoah/agentgist/internal/runstate"
	"github.com/lucasnoah/agentgist/internal/tokens"
)

// sentimentLabels is the list offered to the model, in a fixed order.
var sentimentLabels = []runstate.Sentiment{
	runstate.SentimentHappiness,
	runstate.SentimentAnger,
	runstate.SentimentSadness,
	runstate.SentimentFear,
	runstate.SentimentSurprise,
	runstate.SentimentDisgust,
	runstate.SentimentTrust,
	runstate.SentimentAnticipation,
}

// AnalyzeRequest asks for the analysis of one selected post.
type AnalyzeRequest struct {
	RunID     string
	Subreddit string
	Query     string
	Post      runstate.Post
}

type analysisOutput struct {
	Summary       string   `json:"summary"`
	KeyTakeaways  []string `json:"key_takeaways"`
	Topics        []string `json:"topics"`
	Controversies []string `json:"controversies"`
	Sentiment     string   `json:"sentiment"`
	Confidence    float64  `json:"confidence"`
}

// Analyze runs one post through the simple-task backend.
func (r *Runner) Analyze(ctx context.Context, req AnalyzeRequest) (*runstate.Analysis, error) {
	msgs, err := r.analyzeMessages(req)
	if err != nil {
		return nil, err
	}

	var result *runstate.Analysis
	err = r.infer(ctx, call{
		runID:  req.RunID,
		stage:  runstate.StageAnalyze,
		postID: req.Post.ID,
		task:   router.TaskAnalyze,
		budget: r.cfg.TokenBudgetAnalyze,
		msgs:   msgs,
	}, func(out string) error {
		a, err := parseAnalysis(out, req.Post.ID)
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logf("analyzed post %s (%s, confidence %.2f)", req.Post.ID, result.Sentiment, result.Confidence)
	return result, nil
}

// analyzeMessages lays out the conversation: system instructions, the post,
// comment threads from lowest to highest score, then the task. The post and
// task are pinned, so truncation drops the lowest scoring threads first.
func (r *Runner) analyzeMessages(req AnalyzeRequest) ([]tokens.Message, error) {
	labels := make([]string, len(sentimentLabels))
	for i, s := range sentimentLabels {
		labels[i] = string(s)
	}
	system, err := r.prompts.Render(prompt.AnalyzeSystem, prompt.Vars{
		"sentiments": strings.Join(labels, ", "),
	})
	if err != nil {
		return nil, err
	}

	threads := make([]runstate.Comment, len(req.Post.Comments))
	copy(threads, req.Post.Comments)
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].Score < threads[j].Score
	})
	commentCount := 0
	var threadMsgs []tokens.Message
	for _, c := range threads {
		var b strings.Builder
		commentCount += writeThread(&b, c, 0)
		threadMsgs = append(threadMsgs, tokens.Message{Role: tokens.RoleUser, Content: strings.TrimRight(b.String(), "\n")})
	}

	count := ""
	if commentCount > 0 {
		count = strconv.Itoa(commentCount)
	}
	task, err := r.prompts.Render(prompt.AnalyzeTask, prompt.Vars{
		"query":         req.Query,
		"title":         req.Post.Title,
		"subreddit":     req.Subreddit,
		"comment_count": count,
	})
	if err != nil {
		return nil, err
	}

	msgs := []tokens.Message{
		{Role: tokens.RoleSystem, Content: system},
		{Role: tokens.RoleUser, Content: formatPost(req.Post, r.cfg.TokenBudgetAnalyze/2), Pinned: true},
	}
	msgs = append(msgs, threadMsgs...)
	msgs = append(msgs, tokens.Message{Role: tokens.RoleUser, Content: task, Pinned: true})
	return msgs, nil
}

func formatPost(p runstate.Post, maxBodyTokens int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "POST: %s\n", p.Title)
	fmt.Fprintf(&b, "Author: u/%s | Score: %d | Upvote ratio: %.2f | Comments: %d\n", p.Author, p.Score, p.UpvoteRatio, p.NumComments)
	if p.Category != "" {
		fmt.Fprintf(&b, "Flair: %s\n", p.Category)
	}
	if p.URLDomain != "" {
		fmt.Fprintf(&b, "Links to: %s\n", p.URLDomain)
	}
	if p.Body != "" {
		b.WriteString("\n")
		b.WriteString(tokens.TruncateText(p.Body, maxBodyTokens))
	}
	return strings.TrimRight(b.String(), "\n")
}

// writeThread renders a comment and its replies indented by depth and
// returns the number of comments written.
func writeThread(b *strings.Builder, c runstate.Comment, depth int) int {
	indent := strings.Repeat("  ", depth)
	text := strings.ReplaceAll(strings.TrimSpace(c.Text), "\n", "\n"+indent+"  ")
	fmt.Fprintf(b, "%s[%d] u/%s: %s\n", indent, c.Score, c.Author, text)
	n := 1
	for _, reply := range c.Replies {
		n += writeThread(b, reply, depth+1)
	}
	return n
}

// parseAnalysis decodes and validates a model answer. Malformed answers are
// InferenceErrors without a status code, so they are retried.
func parseAnalysis(out, postID string) (*runstate.Analysis, error) {
	var o analysisOutput
	if err := decodeJSON(out, &o); err != nil {
		return nil, &errs.InferenceError{Op: "analyze", Message: "malformed analysis JSON", Err: err}
	}
	if strings.TrimSpace(o.Summary) == "" {
		return nil, &errs.InferenceError{Op: "analyze", Message: "analysis has no summary"}
	}
	sentiment := runstate.Sentiment(strings.ToLower(strings.TrimSpace(o.Sentiment)))
	if !sentiment.Valid() {
		return nil, &errs.InferenceError{Op: "analyze", Message: fmt.Sprintf("unknown sentiment %q", o.Sentiment)}
	}

	confidence := o.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return &runstate.Analysis{
		PostID:        postID,
		Summary:       strings.TrimSpace(o.Summary),
		KeyTakeaways:  nonEmpty(o.KeyTakeaways),
		Topics:        nonEmpty(o.Topics),
		Controversies: nonEmpty(o.Controversies),
		Sentiment:     sentiment,
		Confidence:    confidence,
	}, nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
