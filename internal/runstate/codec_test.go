package runstate

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMarshalRoundTrip(t *testing.T) {
	rs := New("LocalLLaMA", "quantization", 25, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rs.State = StateAwaitingHuman
	rs.Results = append(rs.Results, StageResult{
		Stage: StageFetch,
		Posts: []Post{{
			ID:        "p1",
			Title:     "Q4 vs Q8",
			CreatedAt: time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
			Comments: []Comment{{
				Author:  "a",
				Text:    "top",
				Score:   5,
				Replies: []Comment{{Author: "b", Text: "reply", Score: 3}},
			}},
		}},
	})
	rs.Interrupt = &Interrupt{
		ID:         "int-1",
		Prompt:     "Select posts",
		Candidates: []Candidate{{PostID: "p1", Title: "Q4 vs Q8", Similarity: 0.8, Rank: 1}},
		Ranked:     true,
	}

	data, err := Marshal(rs)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(rs, got) {
		t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", rs, got)
	}
}

func TestUnmarshalRejectsInconsistentState(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"garbage", `{`, "unmarshal run state"},
		{"no id", `{"version":1,"state":"FETCHING"}`, "no id"},
		{"bad state", `{"version":1,"id":"x","state":"PAUSED"}`, "unknown state"},
		{"future version", `{"version":99,"id":"x","state":"DONE"}`, "newer than supported"},
		{"awaiting without interrupt", `{"version":1,"id":"x","state":"AWAITING_HUMAN"}`, "no interrupt"},
		{"stray interrupt", `{"version":1,"id":"x","state":"ANALYZING","interrupt":{"id":"i"}}`, "pending interrupt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.json))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Unmarshal error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestStateOrdering(t *testing.T) {
	if !StateAnalyzing.After(StateAwaitingHuman) {
		t.Error("ANALYZING should come after AWAITING_HUMAN")
	}
	if StateFiltering.After(StateAwaitingHuman) {
		t.Error("FILTERING should not come after AWAITING_HUMAN")
	}
	if !StateDone.Terminal() || !StateFailed.Terminal() || StateReporting.Terminal() {
		t.Error("Terminal() mismatch")
	}
	if State("PAUSED").Valid() {
		t.Error("unknown state reported valid")
	}
}

func TestNormalizeSubreddit(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"golang", "golang", false},
		{"r/LocalLLaMA", "LocalLLaMA", false},
		{"/r/rust/", "rust", false},
		{"  r/Go_Lang ", "Go_Lang", false},
		{"", "", true},
		{"r/", "", true},
		{"bad name", "", true},
		{"r/a", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeSubreddit(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeSubreddit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeSubreddit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunAccessors(t *testing.T) {
	rs := New("golang", "q", 5, time.Now())
	if rs.Posts() != nil || rs.Report() != nil || rs.Analyses() != nil {
		t.Error("accessors should be nil before stages complete")
	}
	rs.Results = append(rs.Results,
		StageResult{Stage: StageFetch, Posts: []Post{{ID: "p1", Title: "One"}, {ID: "p2"}}},
		StageResult{Stage: StageAnalyze, Analyses: []AnalysisOutcome{{PostID: "p1", Failed: true}}},
		StageResult{Stage: StageReport, Report: &Report{Title: "Digest"}},
	)
	if p, ok := rs.Post("p1"); !ok || p.Title != "One" {
		t.Errorf("Post(p1) = %+v, %v", p, ok)
	}
	if _, ok := rs.Post("p9"); ok {
		t.Error("Post(p9) should not be found")
	}
	if len(rs.Analyses()) != 1 || rs.Report().Title != "Digest" {
		t.Error("accessors returned wrong results")
	}

	in := &Interrupt{Candidates: []Candidate{{PostID: "b"}, {PostID: "a"}}}
	if got := in.CandidateIDs(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("CandidateIDs = %v", got)
	}
}
