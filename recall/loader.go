package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nadia-ai/nadia/pkg/metrics"
	"github.com/nadia-ai/nadia/shared/tokens"
)

// Strategy cutoffs over the total token size of the matched archive. Small
// archives are replayed verbatim, mid-sized ones are sampled, and anything
// bigger collapses to summaries. Historical and semantic triggers always get
// anchored snippets instead.
const (
	FullMaxTokens         = 96_000
	HierarchicalMaxTokens = 240_000

	hierarchicalHead   = 20
	hierarchicalTail   = 20
	hierarchicalMiddle = 10

	snippetContext = 2
	maxThreads     = 3

	codeFenceBonus = 200
)

// Loader assembles historical context for a fired trigger and records the
// injection.
type Loader struct {
	store *Store
	log   *slog.Logger
}

func NewLoader(store *Store, log *slog.Logger) *Loader {
	return &Loader{store: store, log: log}
}

// Load picks the threads the trigger points at, chooses a strategy, and
// renders the context block. The block never exceeds half of maxInputTokens,
// leaving the live tail of the current thread untouched. Returns nil when
// nothing matched.
func (l *Loader) Load(ctx context.Context, userID, threadID, messageID string, trig *Trigger, matches []SemanticMatch, maxInputTokens int) (*Injection, error) {
	if trig == nil || !trig.Fires() {
		return nil, nil
	}

	start := time.Now()
	inj, err := l.load(ctx, userID, threadID, trig, matches, maxInputTokens)

	ev := &RecallEvent{
		ThreadID:       threadID,
		UserID:         userID,
		MessageID:      messageID,
		TriggerType:    trig.Type,
		RelevanceScore: trig.Confidence,
		LatencyMs:      time.Since(start).Milliseconds(),
		Success:        err == nil && inj != nil,
	}
	if inj != nil {
		ev.StrategyUsed = inj.Strategy
		ev.TokensInjected = inj.TokensUsed
	}
	if evErr := l.store.InsertEvent(ctx, ev); evErr != nil {
		// The injection is already assembled; losing the audit row is not
		// worth failing the turn.
		l.log.Warn("record recall event failed", "error", evErr)
	}

	if err != nil {
		return nil, err
	}
	if inj != nil {
		metrics.RecallInjectionsTotal.WithLabelValues(trig.Type, inj.Strategy).Inc()
		l.log.Info("historical context loaded",
			"trigger", trig.Type,
			"strategy", inj.Strategy,
			"threads", len(inj.ThreadIDs),
			"tokens", inj.TokensUsed,
			"latency_ms", ev.LatencyMs)
	}
	return inj, nil
}

func (l *Loader) load(ctx context.Context, userID, threadID string, trig *Trigger, matches []SemanticMatch, maxInputTokens int) (*Injection, error) {
	pkgs, err := l.selectThreads(ctx, userID, threadID, trig, matches)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		l.log.Debug("recall trigger matched no threads", "trigger", trig.Type, "user_id", userID)
		return nil, nil
	}

	budget := maxInputTokens / 2
	strategy := pickStrategy(trig, pkgs)

	inj := &Injection{
		Strategy:    strategy,
		Trigger:     *trig,
		TokenBudget: budget,
	}
	for _, pkg := range pkgs {
		inj.ThreadIDs = append(inj.ThreadIDs, pkg.ThreadID)
	}

	var b strings.Builder
	b.WriteString("Relevant context from earlier conversations:\n")
	used := tokens.Count(b.String())

	for _, pkg := range pkgs {
		section, err := l.renderSection(ctx, pkg, trig, strategy)
		if err != nil {
			return nil, err
		}
		if section == "" {
			continue
		}
		cost := tokens.Count(section)
		if used+cost > budget {
			remaining := budget - used
			if remaining > 50 {
				b.WriteString(tokens.Truncate(section, remaining))
				used = budget
			}
			inj.Truncated = true
			break
		}
		b.WriteString(section)
		used += cost
	}

	inj.Text = b.String()
	inj.TokensUsed = used
	return inj, nil
}

func (l *Loader) selectThreads(ctx context.Context, userID, threadID string, trig *Trigger, matches []SemanticMatch) ([]*ConversationPackage, error) {
	switch trig.Type {
	case TriggerResume:
		return l.store.RecentPackages(ctx, userID, threadID, maxThreads)

	case TriggerHistorical:
		if trig.Timeframe == nil {
			return nil, nil
		}
		ids, err := l.store.ThreadsActiveBetween(ctx, userID, trig.Timeframe.Start, trig.Timeframe.End, maxThreads)
		if err != nil {
			return nil, err
		}
		ids = without(ids, threadID)
		return l.store.GetPackages(ctx, ids)

	case TriggerSemantic:
		var ids []string
		for _, m := range matches {
			if m.Similarity < MinConfidenceSemantic {
				break
			}
			ids = append(ids, m.ThreadID)
			if len(ids) == maxThreads {
				break
			}
		}
		return l.store.GetPackages(ctx, ids)

	default:
		return nil, fmt.Errorf("unknown trigger type %q", trig.Type)
	}
}

// pickStrategy sizes the strategy to the matched archive. Historical and
// semantic triggers point at a specific moment or topic, so they get anchored
// snippets rather than a replay.
func pickStrategy(trig *Trigger, pkgs []*ConversationPackage) string {
	if trig.Type == TriggerHistorical || trig.Type == TriggerSemantic {
		return StrategySnippet
	}

	total := 0
	for _, pkg := range pkgs {
		total += pkg.TotalTokens
	}
	switch {
	case total <= FullMaxTokens:
		return StrategyFull
	case total <= HierarchicalMaxTokens:
		return StrategyHierarchical
	default:
		return StrategyCompressed
	}
}

func (l *Loader) renderSection(ctx context.Context, pkg *ConversationPackage, trig *Trigger, strategy string) (string, error) {
	header := sectionHeader(pkg)

	switch strategy {
	case StrategyFull:
		msgs, err := l.store.ThreadMessages(ctx, pkg.ThreadID)
		if err != nil {
			return "", err
		}
		return header + renderMessages(msgs), nil

	case StrategyHierarchical:
		msgs, err := l.store.ThreadMessages(ctx, pkg.ThreadID)
		if err != nil {
			return "", err
		}
		sampled := sampleHierarchical(msgs)
		out := header + renderSummaryLine(pkg) + renderMessages(sampled)
		if len(sampled) < len(msgs) {
			out += fmt.Sprintf("(%d messages in between omitted)\n", len(msgs)-len(sampled))
		}
		return out, nil

	case StrategyCompressed:
		if pkg.Summary == "" {
			return "", nil
		}
		return header + renderSummaryLine(pkg) + "(full transcript omitted)\n", nil

	case StrategySnippet:
		msgs, err := l.store.ThreadMessages(ctx, pkg.ThreadID)
		if err != nil {
			return "", err
		}
		window := snippetWindow(msgs, trig)
		if len(window) == 0 && pkg.Summary == "" {
			return "", nil
		}
		return header + renderSummaryLine(pkg) + renderMessages(window), nil

	default:
		return "", fmt.Errorf("unknown strategy %q", strategy)
	}
}

// snippetWindow locates the anchor message and returns it with two turns of
// context on each side. Historical triggers anchor on the message closest to
// the middle of the timeframe; topic-bearing triggers anchor on the first
// topic mention; everything else anchors on the end of the thread.
func snippetWindow(msgs []*ConversationMessage, trig *Trigger) []*ConversationMessage {
	if len(msgs) == 0 {
		return nil
	}

	anchor := len(msgs) - 1
	switch {
	case trig.Type == TriggerHistorical && trig.Timeframe != nil:
		center := trig.Timeframe.Start.Add(trig.Timeframe.End.Sub(trig.Timeframe.Start) / 2)
		best := time.Duration(1<<63 - 1)
		for i, m := range msgs {
			d := m.CreatedAt.Sub(center)
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
				anchor = i
			}
		}
	case trig.Topic != "":
		topic := strings.ToLower(trig.Topic)
		for i, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), topic) {
				anchor = i
				break
			}
		}
	}

	lo := anchor - snippetContext
	if lo < 0 {
		lo = 0
	}
	hi := anchor + snippetContext + 1
	if hi > len(msgs) {
		hi = len(msgs)
	}
	return msgs[lo:hi]
}

// sampleHierarchical keeps the opening and closing runs of the thread plus
// the weightiest turns from the middle, in chronological order. Turns with
// code fences count as heavier.
func sampleHierarchical(msgs []*ConversationMessage) []*ConversationMessage {
	if len(msgs) <= hierarchicalHead+hierarchicalTail {
		return msgs
	}

	head := msgs[:hierarchicalHead]
	tail := msgs[len(msgs)-hierarchicalTail:]
	middle := msgs[hierarchicalHead : len(msgs)-hierarchicalTail]

	picked := make([]*ConversationMessage, len(middle))
	copy(picked, middle)
	sort.SliceStable(picked, func(i, j int) bool {
		return importance(picked[i]) > importance(picked[j])
	})
	if len(picked) > hierarchicalMiddle {
		picked = picked[:hierarchicalMiddle]
	}
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].CreatedAt.Before(picked[j].CreatedAt)
	})

	out := make([]*ConversationMessage, 0, len(head)+len(picked)+len(tail))
	out = append(out, head...)
	out = append(out, picked...)
	out = append(out, tail...)
	return out
}

func importance(m *ConversationMessage) int {
	score := m.TokenCount
	if strings.Contains(m.Content, "```") {
		score += codeFenceBonus
	}
	return score
}

func sectionHeader(pkg *ConversationPackage) string {
	label := pkg.Label
	if label == "" {
		label = "Untitled conversation"
	}
	return fmt.Sprintf("\n### %s (%s)\n", label, pkg.LastMessageAt.Format("2006-01-02"))
}

func renderSummaryLine(pkg *ConversationPackage) string {
	if pkg.Summary == "" {
		return ""
	}
	return "Summary: " + pkg.Summary + "\n"
}

func renderMessages(msgs []*ConversationMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "user":
			b.WriteString("User: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString(m.Role + ": ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func without(ids []string, exclude string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
