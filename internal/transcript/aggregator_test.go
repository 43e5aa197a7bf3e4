package transcript

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/parley/domain/entities"
)

func TestAggregatorAppendOrder(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock)

	agg.AppendAgent("Tell me about yourself.")
	mock.Add(time.Second)
	agg.AppendUser("I build backends.")
	agg.AppendFeedback("Clear answer. Score: 8/10")
	agg.AppendUser("   ")

	entries := agg.Transcript()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	want := []entities.Speaker{entities.SpeakerAgent, entities.SpeakerUser, entities.SpeakerFeedback}
	for i, s := range want {
		if entries[i].Speaker != s {
			t.Errorf("entry %d: expected %s, got %s", i, s, entries[i].Speaker)
		}
	}
	if !entries[1].Timestamp.After(entries[0].Timestamp) {
		t.Error("Expected timestamps to follow the clock")
	}
}

func TestTranscriptIsSnapshot(t *testing.T) {
	agg := NewAggregator(clock.NewMock())
	agg.AppendUser("first")

	snap := agg.Transcript()
	snap[0].Text = "changed"
	agg.AppendUser("second")

	if len(snap) != 1 {
		t.Errorf("Expected snapshot to keep its length, got %d", len(snap))
	}
	if agg.Transcript()[0].Text != "first" {
		t.Error("Expected snapshot edits not to leak into the transcript")
	}
}

func TestFragmentsMergeUntilTurnCloses(t *testing.T) {
	agg := NewAggregator(clock.NewMock())

	agg.AppendFragment(entities.SpeakerAgent, "Tell me")
	agg.AppendFragment(entities.SpeakerAgent, " about")
	agg.AppendFragment(entities.SpeakerAgent, "yourself")
	agg.AppendFragment(entities.SpeakerUser, "Sure")
	agg.AppendFragment(entities.SpeakerUser, "thing")
	agg.CloseTurn()
	agg.AppendFragment(entities.SpeakerUser, "Next")

	entries := agg.Transcript()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Text != "Tell me about yourself" {
		t.Errorf("Expected merged agent text, got %q", entries[0].Text)
	}
	if entries[1].Text != "Sure thing" {
		t.Errorf("Expected merged user text, got %q", entries[1].Text)
	}
	if agg.CountBy(entities.SpeakerUser) != 2 {
		t.Errorf("Expected 2 user entries, got %d", agg.CountBy(entities.SpeakerUser))
	}
	if committed := agg.Committed(); len(committed) != 2 {
		t.Errorf("Expected the open fragment to stay uncommitted, got %+v", committed)
	}
}

func TestCommittedEntriesNeverChange(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock)

	agg.AppendFragment(entities.SpeakerAgent, "Tell me")
	if len(agg.Committed()) != 0 {
		t.Fatal("Expected nothing committed while the fragment is open")
	}
	early := agg.Transcript()
	started := early[0].Timestamp

	mock.Add(time.Second)
	agg.AppendFragment(entities.SpeakerAgent, "about yourself")
	if early[0].Text != "Tell me" {
		t.Errorf("Expected the earlier view to keep its text, got %q", early[0].Text)
	}

	// a whole entry from another source commits the fragment ahead of it
	agg.AppendFeedback("Good opener.")
	committed := agg.Committed()
	if len(committed) != 2 || committed[0].Text != "Tell me about yourself" || committed[1].Speaker != entities.SpeakerFeedback {
		t.Fatalf("Unexpected committed entries %+v", committed)
	}
	if !committed[0].Timestamp.Equal(started) {
		t.Errorf("Expected the entry to keep its first fragment time, got %v", committed[0].Timestamp)
	}

	agg.AppendFragment(entities.SpeakerAgent, "Next question")
	agg.AppendFragment(entities.SpeakerAgent, "please")
	agg.CloseTurn()
	after := agg.Committed()
	if len(after) != 3 || after[2].Text != "Next question please" {
		t.Fatalf("Expected the closed turn appended, got %+v", after)
	}
	for i := range committed {
		if after[i] != committed[i] {
			t.Errorf("entry %d changed from %+v to %+v", i, committed[i], after[i])
		}
	}
}

func TestBuildReportPairsByOrder(t *testing.T) {
	entries := []entities.TranscriptEntry{
		{Speaker: entities.SpeakerAgent, Text: "What is a goroutine?"},
		{Speaker: entities.SpeakerUser, Text: "A lightweight thread."},
		{Speaker: entities.SpeakerFeedback, Text: "Good and clear. Score: 8/10"},
		{Speaker: entities.SpeakerAgent, Text: "Explain channels."},
		{Speaker: entities.SpeakerUser, Text: "Pipes between goroutines."},
		{Speaker: entities.SpeakerFeedback, Text: "Answer was vague, improve depth. 6/10"},
	}

	report := BuildReport(entries)
	if len(report.Turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(report.Turns))
	}
	if report.Turns[1].Question != "Explain channels." || report.Turns[1].Answer != "Pipes between goroutines." {
		t.Errorf("Unexpected pairing: %+v", report.Turns[1])
	}
	if report.OverallScore != 7 {
		t.Errorf("Expected mean 7, got %v", report.OverallScore)
	}
	if len(report.Strengths) == 0 || len(report.Improvements) == 0 {
		t.Errorf("Expected strengths and improvements, got %+v / %+v", report.Strengths, report.Improvements)
	}
}

func TestBuildReportDefaultsToNeutral(t *testing.T) {
	tests := []struct {
		name    string
		entries []entities.TranscriptEntry
	}{
		{"empty", nil},
		{"unscored", []entities.TranscriptEntry{
			{Speaker: entities.SpeakerAgent, Text: "Hi"},
			{Speaker: entities.SpeakerUser, Text: "Hello"},
		}},
		{"answer without question", []entities.TranscriptEntry{
			{Speaker: entities.SpeakerUser, Text: "I start talking first"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := BuildReport(tt.entries)
			if report.OverallScore != NeutralScore {
				t.Errorf("Expected neutral score, got %v", report.OverallScore)
			}
			if report.Summary == "" {
				t.Error("Expected a summary")
			}
		})
	}
}

func TestScoreFeedback(t *testing.T) {
	tests := []struct {
		text   string
		want   float64
		scored bool
	}{
		{"Solid answer, 9/10", 9, true},
		{"I'd give it 7 out of 10", 7, true},
		{"Rating: 4", 4, true},
		{"score is 15", 10, true},
		{"0/10, no answer", 1, true},
		{"excellent and thorough", 9, true},
		{"weak and unclear", 5, true},
		{"Noted.", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ScoreFeedback(tt.text)
		if ok != tt.scored || got != tt.want {
			t.Errorf("ScoreFeedback(%q) = %v, %v; want %v, %v", tt.text, got, ok, tt.want, tt.scored)
		}
	}
}
