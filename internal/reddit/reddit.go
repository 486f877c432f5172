// Package reddit fetches subreddit listings and comment threads from Reddit's
// public JSON endpoints.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/errs"
	"github.com/lucasnoah/agentgist/internal/runstate"
)

// commentFetchers bounds concurrent comment-thread requests per fetch.
const commentFetchers = 4

// Fetcher returns the newest posts of a subreddit with their comments.
type Fetcher interface {
	Fetch(ctx context.Context, subreddit string, limit int) ([]runstate.Post, error)
}

// Client implements Fetcher against reddit.com or a compatible base URL.
type Client struct {
	baseURL         string
	userAgent       string
	commentLimit    int
	minCommentScore int
	http            *http.Client
}

// New builds a Client from cfg. hc may be nil.
func New(cfg config.Reddit, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:       cfg.UserAgent,
		commentLimit:    cfg.CommentLimit,
		minCommentScore: cfg.MinCommentScore,
		http:            hc,
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Flair       *string `json:"link_flair_text"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	Permalink   string  `json:"permalink"`
	Domain      string  `json:"domain"`
	IsSelf      bool    `json:"is_self"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type commentData struct {
	Author  string          `json:"author"`
	Body    string          `json:"body"`
	Score   int             `json:"score"`
	Replies json.RawMessage `json:"replies"`
}

// Fetch lists the newest posts of subreddit and attaches each post's comment
// tree. A failed listing is a SourceUnavailableError; a failed comment thread
// leaves that post without comments.
func (c *Client) Fetch(ctx context.Context, subreddit string, limit int) ([]runstate.Post, error) {
	sub, err := runstate.NormalizeSubreddit(subreddit)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/r/%s/.json?limit=%d&raw_json=1", c.baseURL, url.PathEscape(sub), limit)
	var l listing
	if err := c.getJSON(ctx, u, &l); err != nil {
		return nil, err
	}

	posts := make([]runstate.Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var pd postData
		if err := json.Unmarshal(child.Data, &pd); err != nil {
			return nil, &errs.SourceUnavailableError{Source: "reddit", Err: fmt.Errorf("decode post: %w", err)}
		}
		posts = append(posts, toPost(pd))
		if len(posts) == limit {
			break
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(commentFetchers)
	for i := range posts {
		i := i
		g.Go(func() error {
			comments, err := c.comments(gctx, posts[i].Permalink)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn().Err(err).Str("post", posts[i].ID).Msg("fetching comments failed, continuing without them")
				return nil
			}
			posts[i].Comments = comments
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return posts, nil
}

func toPost(pd postData) runstate.Post {
	p := runstate.Post{
		ID:          pd.ID,
		Permalink:   pd.Permalink,
		Title:       pd.Title,
		Body:        pd.Selftext,
		Author:      pd.Author,
		Score:       pd.Score,
		UpvoteRatio: pd.UpvoteRatio,
		NumComments: pd.NumComments,
		CreatedAt:   time.Unix(int64(pd.CreatedUTC), 0).UTC(),
	}
	if pd.Flair != nil {
		p.Category = *pd.Flair
	}
	if !pd.IsSelf && !strings.HasPrefix(pd.Domain, "self.") {
		p.URLDomain = pd.Domain
	}
	return p
}

func (c *Client) comments(ctx context.Context, permalink string) ([]runstate.Comment, error) {
	if !strings.HasPrefix(permalink, "/") {
		permalink = "/" + permalink
	}
	u := fmt.Sprintf("%s%s.json?limit=%d&raw_json=1", c.baseURL, strings.TrimRight(permalink, "/"), c.commentLimit)

	// The thread endpoint returns [post listing, comment listing].
	var thread []listing
	if err := c.getJSON(ctx, u, &thread); err != nil {
		return nil, err
	}
	if len(thread) < 2 {
		return nil, nil
	}
	return c.parseComments(thread[1])
}

// parseComments walks a comment listing, dropping non-comment nodes and
// comments (with their replies) scoring below the minimum.
func (c *Client) parseComments(l listing) ([]runstate.Comment, error) {
	var out []runstate.Comment
	for _, child := range l.Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var cd commentData
		if err := json.Unmarshal(child.Data, &cd); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}
		if cd.Score < c.minCommentScore {
			continue
		}

		cm := runstate.Comment{Author: cd.Author, Text: cd.Body, Score: cd.Score}
		// Replies is "" when empty and a listing object otherwise.
		if len(cd.Replies) > 0 && cd.Replies[0] == '{' {
			var replies listing
			if err := json.Unmarshal(cd.Replies, &replies); err != nil {
				return nil, fmt.Errorf("decode replies: %w", err)
			}
			r, err := c.parseComments(replies)
			if err != nil {
				return nil, err
			}
			cm.Replies = r
		}
		out = append(out, cm)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &errs.SourceUnavailableError{Source: "reddit", Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		return &errs.SourceUnavailableError{Source: "reddit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &errs.SourceUnavailableError{Source: "reddit", StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &errs.SourceUnavailableError{Source: "reddit", Err: fmt.Errorf("decode %s: %w", u, err)}
	}
	return nil
}
