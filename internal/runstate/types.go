package runstate

import "time"

// State is the orchestrator state a run is in.
type State string

const (
	StateFetching      State = "FETCHING"
	StateFiltering     State = "FILTERING"
	StateAwaitingHuman State = "AWAITING_HUMAN"
	StateAnalyzing     State = "ANALYZING"
	StateReporting     State = "REPORTING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// order ranks states along the happy path so callers can ask whether a run is
// already past a given state. FAILED is terminal and ranks last.
var order = map[State]int{
	StateFetching:      0,
	StateFiltering:     1,
	StateAwaitingHuman: 2,
	StateAnalyzing:     3,
	StateReporting:     4,
	StateDone:          5,
	StateFailed:        6,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := order[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// After reports whether s comes later than other on the happy path.
func (s State) After(other State) bool {
	return order[s] > order[other]
}

// Stage names recorded in StageResult.
const (
	StageFetch   = "fetch"
	StageFilter  = "filter"
	StageAnalyze = "analyze"
	StageReport  = "report"
)

// RunState is the persisted state of a single digest run.
type RunState struct {
	Version    int           `json:"version"`
	ID         string        `json:"id"`
	Subreddit  string        `json:"subreddit"`
	Query      string        `json:"query"`
	FetchLimit int           `json:"fetch_limit"`
	State      State         `json:"state"`
	Results    []StageResult `json:"results"`
	Interrupt  *Interrupt    `json:"interrupt,omitempty"`
	Selection  []string      `json:"selection,omitempty"`
	Failure    string        `json:"failure,omitempty"`
	FailedIn   State         `json:"failed_in,omitempty"`
	CreatedAt  string        `json:"created_at"`
	UpdatedAt  string        `json:"updated_at"`
}

// StageResult records the output of one completed stage.
type StageResult struct {
	Stage       string            `json:"stage"`
	CompletedAt string            `json:"completed_at"`
	Duration    string            `json:"duration"`
	Posts       []Post            `json:"posts,omitempty"`
	Candidates  []Candidate       `json:"candidates,omitempty"`
	Selection   []string          `json:"selection,omitempty"`
	Analyses    []AnalysisOutcome `json:"analyses,omitempty"`
	Report      *Report           `json:"report,omitempty"`
}

// Post is a fetched submission with its comment tree. Immutable once fetched.
type Post struct {
	ID          string    `json:"id"`
	Permalink   string    `json:"permalink"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	Category    string    `json:"category,omitempty"`
	Score       int       `json:"score"`
	UpvoteRatio float64   `json:"upvote_ratio"`
	NumComments int       `json:"num_comments"`
	URLDomain   string    `json:"url_domain,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Comments    []Comment `json:"comments,omitempty"`
}

// Comment is one node of a post's comment tree.
type Comment struct {
	Author  string    `json:"author"`
	Text    string    `json:"text"`
	Score   int       `json:"score"`
	Replies []Comment `json:"replies,omitempty"`
}

// Candidate is a post offered to the human for selection.
type Candidate struct {
	PostID      string  `json:"post_id"`
	Title       string  `json:"title"`
	Similarity  float64 `json:"similarity"`
	Rank        int     `json:"rank"`
	FetchIndex  int     `json:"fetch_index"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
}

// Interrupt asks a human to choose which candidates to analyze. It is
// consumed exactly once by a successful resume. Ranked is false when
// similarity ranking was unavailable and candidates are in fetch order.
type Interrupt struct {
	ID         string      `json:"id"`
	Prompt     string      `json:"prompt"`
	Candidates []Candidate `json:"candidates"`
	Ranked     bool        `json:"ranked"`
	CreatedAt  string      `json:"created_at"`
}

// CandidateIDs returns the candidate post ids in presentation order.
func (in *Interrupt) CandidateIDs() []string {
	ids := make([]string, len(in.Candidates))
	for i, c := range in.Candidates {
		ids[i] = c.PostID
	}
	return ids
}

// Sentiment labels an analysis.
type Sentiment string

const (
	SentimentHappiness    Sentiment = "happiness"
	SentimentAnger        Sentiment = "anger"
	SentimentSadness      Sentiment = "sadness"
	SentimentFear         Sentiment = "fear"
	SentimentSurprise     Sentiment = "surprise"
	SentimentDisgust      Sentiment = "disgust"
	SentimentTrust        Sentiment = "trust"
	SentimentAnticipation Sentiment = "anticipation"
)

var sentiments = map[Sentiment]bool{
	SentimentHappiness:    true,
	SentimentAnger:        true,
	SentimentSadness:      true,
	SentimentFear:         true,
	SentimentSurprise:     true,
	SentimentDisgust:      true,
	SentimentTrust:        true,
	SentimentAnticipation: true,
}

// Valid reports whether s is one of the known labels.
func (s Sentiment) Valid() bool {
	return sentiments[s]
}

// Analysis is the structured result of analyzing one post.
type Analysis struct {
	PostID        string    `json:"post_id"`
	Summary       string    `json:"summary"`
	KeyTakeaways  []string  `json:"key_takeaways"`
	Topics        []string  `json:"topics,omitempty"`
	Controversies []string  `json:"controversies,omitempty"`
	Sentiment     Sentiment `json:"sentiment"`
	Confidence    float64   `json:"confidence"`
}

// AnalysisOutcome is either an Analysis or a failure marker for one post.
type AnalysisOutcome struct {
	PostID   string    `json:"post_id"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Failed   bool      `json:"failed,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// FailedPost is a selected post that could not be analyzed.
type FailedPost struct {
	PostID string `json:"post_id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Reference links a report back to a source post.
type Reference struct {
	PostID string `json:"post_id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// Report is the terminal artifact of a run.
type Report struct {
	Title      string       `json:"title"`
	Summary    string       `json:"summary"`
	Takeaways  []string     `json:"takeaways"`
	Analyses   []Analysis   `json:"analyses"`
	Failed     []FailedPost `json:"failed,omitempty"`
	References []Reference  `json:"references"`
	CreatedAt  string       `json:"created_at"`
}
