package reddit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/errs"
)

const listingJSON = `{"kind":"Listing","data":{"children":[
 {"kind":"t3","data":{"id":"p1","title":"Local models","selftext":"body one","author":"alice","link_flair_text":"Discussion",
  "score":120,"upvote_ratio":0.93,"permalink":"/r/golang/comments/p1/local_models/","domain":"self.golang","is_self":true,
  "num_comments":3,"created_utc":1700000000}},
 {"kind":"t3","data":{"id":"p2","title":"Link post","selftext":"","author":"bob","link_flair_text":null,
  "score":40,"upvote_ratio":0.8,"permalink":"/r/golang/comments/p2/link_post/","domain":"go.dev","is_self":false,
  "num_comments":0,"created_utc":1700000100}},
 {"kind":"t3","data":{"id":"p3","title":"Third","permalink":"/r/golang/comments/p3/third/","domain":"self.golang","is_self":true}}
]}}`

const threadJSON = `[
 {"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"p1"}}]}},
 {"kind":"Listing","data":{"children":[
  {"kind":"t1","data":{"author":"carol","body":"top comment","score":10,"replies":{"kind":"Listing","data":{"children":[
    {"kind":"t1","data":{"author":"dave","body":"good reply","score":5,"replies":""}},
    {"kind":"t1","data":{"author":"eve","body":"downvoted reply","score":1,"replies":""}}
  ]}}}},
  {"kind":"t1","data":{"author":"frank","body":"low score","score":0,"replies":{"kind":"Listing","data":{"children":[
    {"kind":"t1","data":{"author":"gina","body":"hidden under low score","score":50,"replies":""}}
  ]}}}},
  {"kind":"more","data":{"count":12}}
 ]}}
]`

func newTestServer(t *testing.T, threadStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gist-test/1.0", r.Header.Get("User-Agent"))
		switch {
		case r.URL.Path == "/r/golang/.json":
			_, _ = w.Write([]byte(listingJSON))
		case strings.HasPrefix(r.URL.Path, "/r/golang/comments/p1/"):
			if threadStatus != http.StatusOK {
				w.WriteHeader(threadStatus)
				return
			}
			assert.Equal(t, "30", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(threadJSON))
		default:
			_, _ = w.Write([]byte(`[{"data":{"children":[]}},{"data":{"children":[]}}]`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(base string) config.Reddit {
	return config.Reddit{BaseURL: base, UserAgent: "gist-test/1.0", CommentLimit: 30, MinCommentScore: 2}
}

func TestFetch(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	c := New(testConfig(srv.URL), nil)

	posts, err := c.Fetch(context.Background(), "r/golang", 2)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	p1 := posts[0]
	assert.Equal(t, "p1", p1.ID)
	assert.Equal(t, "Local models", p1.Title)
	assert.Equal(t, "body one", p1.Body)
	assert.Equal(t, "Discussion", p1.Category)
	assert.Equal(t, "", p1.URLDomain, "self posts have no url domain")
	assert.Equal(t, int64(1700000000), p1.CreatedAt.Unix())

	require.Len(t, p1.Comments, 1, "low-score comment and its subtree are dropped")
	assert.Equal(t, "carol", p1.Comments[0].Author)
	require.Len(t, p1.Comments[0].Replies, 1)
	assert.Equal(t, "good reply", p1.Comments[0].Replies[0].Text)

	p2 := posts[1]
	assert.Equal(t, "go.dev", p2.URLDomain)
	assert.Empty(t, p2.Category)
	assert.Empty(t, p2.Comments)
}

func TestFetchCommentFailureIsNotFatal(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError)
	c := New(testConfig(srv.URL), nil)

	posts, err := c.Fetch(context.Background(), "golang", 10)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Empty(t, posts[0].Comments)
}

func TestFetchListingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL), nil).Fetch(context.Background(), "golang", 5)
	var src *errs.SourceUnavailableError
	require.True(t, errors.As(err, &src), "got %T: %v", err, err)
	assert.Equal(t, http.StatusServiceUnavailable, src.StatusCode)
	assert.True(t, errs.Retryable(err))
}

func TestFetchListingNotFoundIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL), nil).Fetch(context.Background(), "golang", 5)
	require.Error(t, err)
	assert.False(t, errs.Retryable(err))
}

func TestFetchUnreachable(t *testing.T) {
	_, err := New(testConfig("http://127.0.0.1:1"), nil).Fetch(context.Background(), "golang", 5)
	var src *errs.SourceUnavailableError
	require.True(t, errors.As(err, &src))
}

func TestFetchInvalidSubreddit(t *testing.T) {
	_, err := New(testConfig("http://unused"), nil).Fetch(context.Background(), "no spaces allowed", 5)
	var in *errs.InputValidationError
	require.True(t, errors.As(err, &in), "got %T: %v", err, err)
}
