package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nadia-ai/nadia/gateway/ingest"
	"github.com/nadia-ai/nadia/gateway/memoryclient"
	"github.com/nadia-ai/nadia/gateway/prompt"
	"github.com/nadia-ai/nadia/shared/capsule"
)

// The preprocessor rewrites gathered blocks into second-person narrative
// before they reach the prompt. It strips machine markers, never invents
// facts, and leaves quoted spans untouched.

var (
	bracketTag = regexp.MustCompile(`^\s*\[[^\]]*\]\s*`)
	quoteSplit = regexp.MustCompile(`("[^"]*"|'[^']*'|“[^”]*”)`)
)

// phrase rewrites run longest-first so "I am" never degrades into "you am".
var secondPersonRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bthe user's\b`), "your"},
	{regexp.MustCompile(`(?i)\bthe user\b`), "you"},
	{regexp.MustCompile(`(?i)\buser's\b`), "your"},
	{regexp.MustCompile(`(?i)\buser\b`), "you"},
	{regexp.MustCompile(`(?i)\bI am\b`), "you are"},
	{regexp.MustCompile(`(?i)\bI'm\b`), "you are"},
	{regexp.MustCompile(`(?i)\bI was\b`), "you were"},
	{regexp.MustCompile(`(?i)\bI have\b`), "you have"},
	{regexp.MustCompile(`(?i)\bI've\b`), "you have"},
	{regexp.MustCompile(`\bI\b`), "you"},
	{regexp.MustCompile(`(?i)\bmy\b`), "your"},
	{regexp.MustCompile(`(?i)\bmine\b`), "yours"},
	{regexp.MustCompile(`(?i)\bme\b`), "you"},
}

// addContextBlocks narrativizes the gathered layers into prompt blocks.
// Priorities decide budget sacrifice order: recalled facts and loaded history
// outrank background and excerpts.
func addContextBlocks(b *prompt.Builder, g Gathered) {
	if text := renderProfile(g.Profile); text != "" {
		b.AddBlock(prompt.BlockProfile, text, prompt.PriorityLow)
	}
	if text := renderMemories(g.Memories); text != "" {
		b.AddBlock(prompt.BlockMemories, text, prompt.PriorityHigh)
	}
	if text := renderConversations(g.Conversations); text != "" {
		b.AddBlock(prompt.BlockConversations, text, prompt.PriorityMedium)
	}
	if g.Unlimited != nil && g.Unlimited.Text != "" {
		b.AddBlock(prompt.BlockUnlimited, g.Unlimited.Text, prompt.PriorityHigh)
	}
	if text := renderCapsule(g.Capsule); text != "" {
		b.AddBlock(prompt.BlockResearch, text, prompt.PriorityMedium)
	}
	if text := renderIngestion(g.Ingestion); text != "" {
		b.AddBlock(prompt.BlockIngestion, text, prompt.PriorityLow)
	}
}

// secondPerson rewrites unquoted text into second person. Quoted spans pass
// through verbatim.
func secondPerson(s string) string {
	parts := quoteSplit.Split(s, -1)
	quotes := quoteSplit.FindAllString(s, -1)

	var out strings.Builder
	for i, part := range parts {
		for _, rule := range secondPersonRules {
			part = rule.re.ReplaceAllString(part, rule.repl)
		}
		out.WriteString(part)
		if i < len(quotes) {
			out.WriteString(quotes[i])
		}
	}
	return out.String()
}

// renderMemories turns recalled memories into "You mentioned that …"
// sentences, one per line, strongest score first (the recall engine already
// ordered them).
func renderMemories(mems []memoryclient.RecalledMemory) string {
	if len(mems) == 0 {
		return ""
	}
	lines := make([]string, 0, len(mems))
	for _, m := range mems {
		content := strings.TrimSpace(bracketTag.ReplaceAllString(m.Memory.Content, ""))
		if content == "" {
			continue
		}
		content = strings.TrimRight(secondPerson(content), ".!")
		lines = append(lines, "You mentioned that "+lowerFirst(content)+".")
	}
	return strings.Join(lines, "\n")
}

// renderConversations narrates each prior thread that has a summary. Threads
// without one are skipped rather than padded.
func renderConversations(heads []memoryclient.ConversationHeader) string {
	if len(heads) == 0 {
		return ""
	}
	lines := make([]string, 0, len(heads))
	for _, h := range heads {
		if strings.TrimSpace(h.Summary) == "" {
			continue
		}
		var sb strings.Builder
		sb.WriteString("In a previous conversation")
		if h.Label != "" {
			sb.WriteString(" about ")
			sb.WriteString(h.Label)
		}
		if !h.LastMessageAt.IsZero() {
			sb.WriteString(" (")
			sb.WriteString(humanizeSince(h.LastMessageAt))
			sb.WriteString(")")
		}
		sb.WriteString(", ")
		sb.WriteString(lowerFirst(strings.TrimSpace(secondPerson(h.Summary))))
		lines = append(lines, strings.TrimRight(sb.String(), ".")+".")
	}
	return strings.Join(lines, "\n")
}

// renderCapsule flattens a research capsule into prose with inline source
// hosts. Claims keep their dates when present; no bullets, no JSON.
func renderCapsule(fact *capsule.Capsule) string {
	if fact == nil || (len(fact.Claims) == 0 && fact.Summary == "") {
		return ""
	}
	var sb strings.Builder
	if fact.Query != "" {
		sb.WriteString("Fresh findings on \"")
		sb.WriteString(fact.Query)
		sb.WriteString("\" as of ")
		sb.WriteString(fact.FetchedAt.UTC().Format("Jan 2, 2006"))
		sb.WriteString(": ")
	}
	for i, claim := range fact.Claims {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimRight(strings.TrimSpace(claim.Text), "."))
		if claim.Date != "" {
			sb.WriteString(" (as of ")
			sb.WriteString(claim.Date)
			sb.WriteString(")")
		}
		if i < len(fact.Sources) && fact.Sources[i].Host != "" {
			sb.WriteString(" (")
			sb.WriteString(fact.Sources[i].Host)
			sb.WriteString(")")
		}
		sb.WriteString(".")
	}
	if fact.Summary != "" {
		if len(fact.Claims) > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(fact.Summary))
	}
	return sb.String()
}

// renderIngestion narrates document excerpts the ingestion upstream matched.
func renderIngestion(chunks []ingest.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	lines := make([]string, 0, len(chunks))
	for _, c := range chunks {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = "an uploaded document"
		}
		lines = append(lines, fmt.Sprintf("You recently asked about %s; here's the relevant excerpt: %s", title, content))
	}
	return strings.Join(lines, "\n")
}

// profileDoc mirrors the memory service's profile_json shape.
type profileDoc struct {
	Preferences []string          `json:"preferences"`
	Facts       []string          `json:"facts"`
	Attributes  map[string]string `json:"attributes"`
	TopEntities []string          `json:"topEntities"`
}

// renderProfile flattens the profile document into short background
// sentences. Unparseable profiles are dropped, not passed through as JSON.
func renderProfile(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc profileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var lines []string
	keys := make([]string, 0, len(doc.Attributes))
	for k := range doc.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, "Your "+strings.ReplaceAll(k, "_", " ")+" is "+doc.Attributes[k]+".")
	}
	for _, p := range doc.Preferences {
		lines = append(lines, "You prefer "+lowerFirst(strings.TrimRight(secondPerson(p), "."))+".")
	}
	for _, f := range doc.Facts {
		lines = append(lines, upperFirst(strings.TrimRight(secondPerson(f), "."))+".")
	}
	if len(doc.TopEntities) > 0 {
		lines = append(lines, "Topics that come up often: "+strings.Join(doc.TopEntities, ", ")+".")
	}
	return strings.Join(lines, "\n")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// humanizeSince renders a coarse relative timestamp for conversation
// headers.
func humanizeSince(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Hour:
		return "earlier today"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "yesterday"
	case d < 14*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	case d < 60*24*time.Hour:
		return fmt.Sprintf("%d weeks ago", int(d.Hours()/(24*7)))
	default:
		return t.UTC().Format("Jan 2006")
	}
}
