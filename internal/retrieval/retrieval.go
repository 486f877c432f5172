// Package retrieval ranks fetched posts against a reader's query by embedding
// similarity and picks the candidates offered to the human.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/agentgist/internal/embed"
	"github.com/lucasnoah/agentgist/internal/runstate"
	"github.com/lucasnoah/agentgist/internal/tokens"
)

// embedWorkers bounds concurrent embedding requests.
const embedWorkers = 4

// Options tune candidate selection.
type Options struct {
	// Threshold excludes posts whose similarity is below it.
	Threshold float64
	// MaxCandidates caps the candidate list. Zero means no cap.
	MaxCandidates int
	// MaxChars truncates post text before embedding. Zero means no limit.
	MaxChars int
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the vectors differ in length or either is all zeros.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank returns the indices of sims ordered by descending similarity. Equal
// similarities keep their original order.
func Rank(sims []float64) []int {
	idx := make([]int, len(sims))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return sims[idx[a]] > sims[idx[b]]
	})
	return idx
}

// PostText is the text embedded for a post: its title and body, shortened
// to about maxChars characters by keeping the start, middle and end.
func PostText(p runstate.Post, maxChars int) string {
	text := p.Title
	if p.Body != "" {
		text += "\n\n" + p.Body
	}
	if maxChars > 0 && len([]rune(text)) > maxChars {
		text = tokens.TruncateText(text, maxChars/4)
	}
	return text
}

// Filter embeds query and every post, then returns the posts at or above the
// threshold as candidates in descending similarity, ties in fetch order. It
// has no state of its own: identical inputs and embeddings give identical
// output.
func Filter(ctx context.Context, e embed.Embedder, query string, posts []runstate.Post, opts Options) ([]runstate.Candidate, error) {
	qv, err := e.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sims := make([]float64, len(posts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i := range posts {
		i := i
		g.Go(func() error {
			pv, err := e.Embed(gctx, PostText(posts[i], opts.MaxChars))
			if err != nil {
				return fmt.Errorf("embed post %s: %w", posts[i].ID, err)
			}
			sims[i] = CosineSimilarity(qv, pv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []runstate.Candidate
	for _, i := range Rank(sims) {
		if sims[i] < opts.Threshold {
			// Sorted descending, so every later post is below it too.
			break
		}
		if opts.MaxCandidates > 0 && len(out) == opts.MaxCandidates {
			break
		}
		c := candidate(posts[i], i)
		c.Similarity = sims[i]
		c.Rank = len(out) + 1
		out = append(out, c)
	}
	return out, nil
}

// Unranked returns posts as candidates in fetch order. It is the fallback when
// no embedding backend is reachable; no threshold applies.
func Unranked(posts []runstate.Post, maxCandidates int) []runstate.Candidate {
	var out []runstate.Candidate
	for i, p := range posts {
		if maxCandidates > 0 && len(out) == maxCandidates {
			break
		}
		c := candidate(p, i)
		c.Rank = i + 1
		out = append(out, c)
	}
	return out
}

func candidate(p runstate.Post, fetchIndex int) runstate.Candidate {
	return runstate.Candidate{
		PostID:      p.ID,
		Title:       p.Title,
		FetchIndex:  fetchIndex,
		Score:       p.Score,
		NumComments: p.NumComments,
	}
}
