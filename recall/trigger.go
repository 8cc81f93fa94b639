package recall

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/nadia-ai/nadia/shared/embedding"
)

// Trigger confidences and the floor each type must clear before context is
// loaded.
const (
	ConfidenceResume     = 0.9
	ConfidenceHistorical = 0.85

	MinConfidenceResume     = 0.7
	MinConfidenceHistorical = 0.7
	MinConfidenceSemantic   = 0.6
)

// minTimeframePad is the smallest widening applied to a parsed time window.
const minTimeframePad = 5 * time.Minute

var resumePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcontinue where (?:we|i) left off\b`),
	regexp.MustCompile(`(?i)\bpick(?:ing)? up where\b`),
	regexp.MustCompile(`(?i)\bback to (?:what|where|our|the) .{0,40}\b(?:discuss|talk|say)`),
	regexp.MustCompile(`(?i)\bas (?:we|i) (?:were|was) (?:saying|discussing)\b`),
	regexp.MustCompile(`(?i)\bresume (?:our|the|that|this)\b`),
	regexp.MustCompile(`(?i)\blast time we (?:talked|spoke|discussed|chatted)\b`),
	regexp.MustCompile(`(?i)\bwhere were we\b`),
}

var topicPattern = regexp.MustCompile(`(?i)\b(?:about|regarding|concerning)\s+(.{3,60}?)(?:[.?!,]|$)`)

var (
	daysAgoPattern  = regexp.MustCompile(`(?i)\b(\d+|a|a couple of|a few)\s+days?\s+ago\b`)
	hoursAgoPattern = regexp.MustCompile(`(?i)\b(\d+|an?|a couple of|a few)\s+hours?\s+ago\b`)
	weeksAgoPattern = regexp.MustCompile(`(?i)\b(\d+|a|a couple of|a few)\s+weeks?\s+ago\b`)
	weekdayPattern  = regexp.MustCompile(`(?i)\b(?:on|last)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// Detector decides, per incoming message, whether older conversation context
// should be pulled into the turn.
type Detector struct {
	store    *Store
	embedder *embedding.Client
	log      *slog.Logger
}

// NewDetector builds a detector. embedder may be nil, which disables the
// semantic trigger.
func NewDetector(store *Store, embedder *embedding.Client, log *slog.Logger) *Detector {
	return &Detector{store: store, embedder: embedder, log: log}
}

// Detect checks the message for resume phrases, then time references, then
// semantic similarity against the user's thread summaries. The first trigger
// that clears its confidence floor wins. Semantic matches are returned
// alongside so the loader does not repeat the search.
func (d *Detector) Detect(ctx context.Context, userID, threadID, text string) (*Trigger, []SemanticMatch, error) {
	if detectResume(text) {
		return &Trigger{
			Type:       TriggerResume,
			Confidence: ConfidenceResume,
			Topic:      extractTopic(text),
		}, nil, nil
	}

	if tf := detectTimeframe(text, time.Now().UTC()); tf != nil {
		return &Trigger{
			Type:       TriggerHistorical,
			Confidence: ConfidenceHistorical,
			Topic:      extractTopic(text),
			Timeframe:  tf,
		}, nil, nil
	}

	if d.embedder == nil {
		return nil, nil, nil
	}

	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		// Semantic detection is best effort; a dead embedding provider must
		// not take the turn down.
		d.log.Warn("semantic trigger embedding failed", "error", err)
		return nil, nil, nil
	}

	matches, err := d.store.SemanticThreads(ctx, userID, pgvector.NewVector(vec), threadID, 5)
	if err != nil {
		return nil, nil, err
	}
	if len(matches) == 0 || matches[0].Similarity < MinConfidenceSemantic {
		return nil, nil, nil
	}

	return &Trigger{
		Type:       TriggerSemantic,
		Confidence: matches[0].Similarity,
		Topic:      extractTopic(text),
	}, matches, nil
}

// Fires reports whether the trigger clears the confidence floor for its
// type.
func (t *Trigger) Fires() bool {
	if t == nil {
		return false
	}
	switch t.Type {
	case TriggerResume:
		return t.Confidence >= MinConfidenceResume
	case TriggerHistorical:
		return t.Confidence >= MinConfidenceHistorical
	case TriggerSemantic:
		return t.Confidence >= MinConfidenceSemantic
	default:
		return false
	}
}

func detectResume(text string) bool {
	for _, p := range resumePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// detectTimeframe parses a relative time reference out of the message and
// returns the widened window it points at, or nil when the message carries
// none.
func detectTimeframe(text string, now time.Time) *Timeframe {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "yesterday"):
		start := startOfDay(now).AddDate(0, 0, -1)
		return widen(start, start.AddDate(0, 0, 1))
	case strings.Contains(lower, "earlier today"), strings.Contains(lower, "this morning"):
		return widen(startOfDay(now), now)
	case strings.Contains(lower, "last night"):
		evening := startOfDay(now).AddDate(0, 0, -1).Add(18 * time.Hour)
		return widen(evening, startOfDay(now))
	case strings.Contains(lower, "last week"):
		return widen(now.AddDate(0, 0, -14), now.AddDate(0, 0, -7))
	case strings.Contains(lower, "last month"):
		return widen(now.AddDate(0, -2, 0), now.AddDate(0, -1, 0))
	}

	if m := weeksAgoPattern.FindStringSubmatch(lower); m != nil {
		n := parseCount(m[1])
		center := now.AddDate(0, 0, -7*n)
		return widen(center.AddDate(0, 0, -3), center.AddDate(0, 0, 3))
	}
	if m := daysAgoPattern.FindStringSubmatch(lower); m != nil {
		n := parseCount(m[1])
		start := startOfDay(now).AddDate(0, 0, -n)
		return widen(start, start.AddDate(0, 0, 1))
	}
	if m := hoursAgoPattern.FindStringSubmatch(lower); m != nil {
		n := parseCount(m[1])
		center := now.Add(-time.Duration(n) * time.Hour)
		return widen(center.Add(-30*time.Minute), center.Add(30*time.Minute))
	}
	if m := weekdayPattern.FindStringSubmatch(lower); m != nil {
		day := lastWeekday(now, m[1])
		return widen(day, day.AddDate(0, 0, 1))
	}

	return nil
}

// widen pads the window on both sides by half its span, with a five minute
// floor, so clock skew between the reference and the capture timestamps does
// not empty the result.
func widen(start, end time.Time) *Timeframe {
	pad := end.Sub(start) / 2
	if pad < minTimeframePad {
		pad = minTimeframePad
	}
	return &Timeframe{Start: start.Add(-pad), End: end.Add(pad)}
}

func extractTopic(text string) string {
	m := topicPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func parseCount(s string) int {
	switch strings.TrimSpace(s) {
	case "a", "an":
		return 1
	case "a couple of":
		return 2
	case "a few":
		return 3
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func lastWeekday(now time.Time, name string) time.Time {
	var target time.Weekday
	switch name {
	case "monday":
		target = time.Monday
	case "tuesday":
		target = time.Tuesday
	case "wednesday":
		target = time.Wednesday
	case "thursday":
		target = time.Thursday
	case "friday":
		target = time.Friday
	case "saturday":
		target = time.Saturday
	default:
		target = time.Sunday
	}

	day := startOfDay(now)
	for i := 0; i < 7; i++ {
		day = day.AddDate(0, 0, -1)
		if day.Weekday() == target {
			return day
		}
	}
	return day
}
