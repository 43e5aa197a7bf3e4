package transcript

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/satriahrh/parley/domain/entities"
)

const (
	NeutralScore = 7.0
	MinScore     = 1.0
	MaxScore     = 10.0
)

var (
	outOfTenPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:/|out of)\s*10\b`)
	scorePattern    = regexp.MustCompile(`(?i)\b(?:score|rating)\s*(?:is|of|:|=)?\s*(\d+(?:\.\d+)?)`)

	positiveWords = []string{"excellent", "great", "strong", "clear", "good", "well", "solid", "impressive", "thorough"}
	negativeWords = []string{"weak", "unclear", "vague", "improve", "lacking", "missing", "incorrect", "struggled", "confusing"}
)

// BuildReport folds a transcript into a report. Each agent question is paired
// with the user answer that follows it by position; feedback entries attach to
// the latest turn. Ambiguous transcripts produce a best guess, never an error.
func BuildReport(entries []entities.TranscriptEntry) entities.StructuredReport {
	var (
		turns       []entities.TurnFeedback
		question    string
		general     []string
		hasQuestion bool
	)

	for _, e := range entries {
		switch e.Speaker {
		case entities.SpeakerAgent:
			if hasQuestion {
				question = question + " " + e.Text
			} else {
				question = e.Text
				hasQuestion = true
			}
		case entities.SpeakerUser:
			if hasQuestion {
				turns = append(turns, entities.TurnFeedback{Question: question, Answer: e.Text})
				question, hasQuestion = "", false
				continue
			}
			if n := len(turns); n > 0 && turns[n-1].Feedback == "" {
				turns[n-1].Answer += " " + e.Text
				continue
			}
			turns = append(turns, entities.TurnFeedback{Answer: e.Text})
		case entities.SpeakerFeedback:
			n := len(turns)
			if n == 0 {
				general = append(general, e.Text)
				continue
			}
			t := &turns[n-1]
			if t.Feedback != "" {
				t.Feedback += " " + e.Text
			} else {
				t.Feedback = e.Text
			}
			if score, ok := ScoreFeedback(t.Feedback); ok {
				t.Score, t.Scored = score, true
			}
		}
	}

	report := entities.StructuredReport{Turns: turns}
	if report.Turns == nil {
		report.Turns = []entities.TurnFeedback{}
	}

	var sum float64
	scored := 0
	for _, t := range turns {
		if t.Scored {
			sum += t.Score
			scored++
		}
		classify(t.Feedback, &report)
	}
	for _, g := range general {
		classify(g, &report)
	}

	report.OverallScore = NeutralScore
	if scored > 0 {
		report.OverallScore = clamp(math.Round(sum/float64(scored)*10) / 10)
	}
	report.Summary = summarize(turns, scored, report.OverallScore)
	return report
}

// ScoreFeedback extracts a 1..10 score from feedback text. An explicit "N/10"
// or "score: N" wins; otherwise keyword balance moves away from neutral.
func ScoreFeedback(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	if m := outOfTenPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp(v), true
		}
	}
	if m := scorePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp(v), true
		}
	}

	pos, neg := countKeywords(text)
	if pos == 0 && neg == 0 {
		return 0, false
	}
	return clamp(NeutralScore + float64(pos) - float64(neg)), true
}

func countKeywords(text string) (pos, neg int) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, word := range words {
		for _, w := range positiveWords {
			if strings.HasPrefix(word, w) {
				pos++
			}
		}
		for _, w := range negativeWords {
			if strings.HasPrefix(word, w) {
				neg++
			}
		}
	}
	return pos, neg
}

func classify(feedback string, report *entities.StructuredReport) {
	if feedback == "" {
		return
	}
	for _, sentence := range splitSentences(feedback) {
		pos, neg := countKeywords(sentence)
		switch {
		case pos > neg:
			report.Strengths = append(report.Strengths, sentence)
		case neg > pos:
			report.Improvements = append(report.Improvements, sentence)
		}
	}
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func summarize(turns []entities.TurnFeedback, scored int, overall float64) string {
	answered := 0
	for _, t := range turns {
		if t.Question != "" && t.Answer != "" {
			answered++
		}
	}
	if len(turns) == 0 {
		return fmt.Sprintf("No answered questions were recorded. Overall score %.1f/10.", overall)
	}
	return fmt.Sprintf("Answered %d of %d questions, %d with feedback. Overall score %.1f/10.",
		answered, len(turns), scored, overall)
}

func clamp(v float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, v))
}
