// Package compactor shrinks an over-budget conversation history down to a
// token budget, per spec.md §4.G. Scoring and removal are rule-based, run
// synchronously and always succeed. This package makes no LLM call: each
// removed run is replaced by a rule-based "[摘要] " placeholder, and the
// "compaction" functional subagent (component K) is not called from here.
//
// There's no pack precedent for this exact algorithm — no config-driven
// compaction implementation or Jaccard-similarity dedup turned up anywhere
// in the retrieved examples — so the scoring/removal/dedup logic here is
// original work, built in the teacher's general config-driven-compaction
// idiom rather than copied from any one file.
package compactor

import (
	"sort"
	"strings"
	"unicode"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
	"github.com/nextlevelbuilder/ggcode/internal/estimator"
)

// Config parameterizes compaction thresholds, mirroring the teacher's
// CompactionConfig field names (ReserveTokensFloor, MaxHistoryShare,
// MinMessages, KeepLastMessages). The ggcode config file does not use these
// names: cmd/agent.go fills ReserveTokensFloor and MaxHistoryShare from
// agent.compress_reserve and agent.compress_threshold and sets the rest
// directly.
type Config struct {
	ReserveTokensFloor int     // tokens always left unreserved for the response
	MaxHistoryShare    float64 // fraction of the context window history may occupy
	MinMessages        int     // histories of at most this many messages are never compacted
	KeepLastMessages   int     // most-recent messages exempt from scoring/removal
	JaccardThreshold   float64 // similarity above which two messages are considered near-duplicates
}

// DefaultConfig matches the teacher's defaults (config_load.go's Default())
// scaled to a single-agent CLI session.
func DefaultConfig() Config {
	return Config{
		ReserveTokensFloor: 2000,
		MaxHistoryShare:    0.7,
		MinMessages:        8,
		KeepLastMessages:   4,
		JaccardThreshold:   0.85,
	}
}

// scored pairs a message with its importance and original index, so
// selection-for-removal doesn't disturb chronological order of survivors.
type scored struct {
	msg   gctx.Message
	score float64
	index int
}

// Compact drops the lowest-scoring messages (outside the protected window)
// until the estimated history fits budget tokens or no candidates remain,
// replacing consecutive removed runs with a single "[摘要] " rule-based
// summary line so the model still sees that something happened there. The
// estimate does not count those summary lines, and protected and system
// messages are never removed, so the result can still exceed budget.
// Returns the compacted slice; the input is never mutated.
func Compact(messages []gctx.Message, budget int, cfg Config) []gctx.Message {
	if len(messages) <= cfg.MinMessages {
		return messages
	}

	total := estimator.EstimateMessages(flattenAll(messages))
	if total <= budget {
		return messages
	}

	protectedFrom := len(messages) - cfg.KeepLastMessages
	if protectedFrom < 0 {
		protectedFrom = 0
	}

	var candidates []scored
	for i, m := range messages {
		if m.Role == gctx.RoleSystem {
			continue // system messages are gathered unconditionally by the context view; never scored for removal
		}
		if i >= protectedFrom {
			continue
		}
		candidates = append(candidates, scored{msg: m, score: importance(m, i, len(messages)), index: i})
	}

	candidates = dedupeSimilar(candidates, cfg.JaccardThreshold)

	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].score < candidates[b].score })

	removed := make(map[int]bool)
	current := total
	for _, c := range candidates {
		if current <= budget {
			break
		}
		removed[c.index] = true
		current -= estimator.Estimate(c.msg.Text())
	}

	return rebuild(messages, removed)
}

// importance implements spec.md §4.G's scoring formula: a recency bonus
// (larger for the most recent third of history), a tool-result bonus
// (0.15, raised to 0.20 when the result was an error, since errors carry
// diagnostic value worth keeping), a file-modification bonus, a
// reasoning-content bonus, and a new-task-opener bonus for any user message
// of at least three words (the preceding turns are not examined).
func importance(m gctx.Message, index, total int) float64 {
	var score float64

	recencyFraction := float64(index) / float64(maxInt(total-1, 1))
	if recencyFraction >= 0.66 {
		score += 0.25
	} else if recencyFraction >= 0.33 {
		score += 0.10
	}

	if hasToolResult(m) {
		if m.HasToolResultError() {
			score += 0.20
		} else {
			score += 0.15
		}
	}

	if m.HasFileModification() {
		score += 0.25
	}

	if m.HasReasoning() {
		score += 0.10
	}

	if isNewTaskOpener(m) {
		score += 0.20
	}

	return score
}

func hasToolResult(m gctx.Message) bool {
	for _, p := range m.Parts {
		if p.Kind == gctx.PartToolResult {
			return true
		}
	}
	return false
}

func isNewTaskOpener(m gctx.Message) bool {
	if m.Role != gctx.RoleUser {
		return false
	}
	text := strings.TrimSpace(m.Text())
	if text == "" {
		return false
	}
	words := strings.Fields(text)
	return len(words) >= 3
}

// dedupeSimilar collapses near-duplicate candidate messages (e.g. the model
// repeating the same failed tool narration) down to the most recent
// occurrence, using the average of raw-text and lowercase word-tokenized
// Jaccard similarity — averaging the two catches both verbatim repeats and
// case/punctuation-only variants without either measure dominating.
func dedupeSimilar(candidates []scored, threshold float64) []scored {
	keep := make([]bool, len(candidates))
	for i := range candidates {
		keep[i] = true
	}

	for i := 0; i < len(candidates); i++ {
		if !keep[i] {
			continue
		}
		textI := candidates[i].msg.Text()
		for j := i + 1; j < len(candidates); j++ {
			if !keep[j] {
				continue
			}
			textJ := candidates[j].msg.Text()
			if jaccardAverage(textI, textJ) >= threshold {
				// Keep the later occurrence (closer to protected window),
				// drop the earlier duplicate outright from scoring —
				// it contributes nothing additional and would otherwise
				// compete for a removal slot the later copy should win.
				keep[i] = false
				break
			}
		}
	}

	out := make([]scored, 0, len(candidates))
	for i, k := range keep {
		if k {
			out = append(out, candidates[i])
		}
	}
	return out
}

// jaccardAverage averages raw-word-token Jaccard similarity with
// lowercase-word-token Jaccard similarity, catching both verbatim repeats
// and case/punctuation-only variants without either measure dominating.
func jaccardAverage(a, b string) float64 {
	raw := jaccard(wordSet(a, false), wordSet(b, false))
	lower := jaccard(wordSet(a, true), wordSet(b, true))
	return (raw + lower) / 2
}

func wordSet(s string, lowercase bool) map[string]bool {
	if lowercase {
		s = strings.ToLower(s)
	}
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func rebuild(messages []gctx.Message, removed map[int]bool) []gctx.Message {
	out := make([]gctx.Message, 0, len(messages))
	inRemovedRun := false
	for i, m := range messages {
		if removed[i] {
			if !inRemovedRun {
				out = append(out, summaryMessage(messages, i, removed))
				inRemovedRun = true
			}
			continue
		}
		inRemovedRun = false
		out = append(out, m)
	}
	return out
}

// summaryMessage builds a single rule-based placeholder for a run of
// removed messages: the first three sentences of their concatenated text,
// or an "important"-pattern sentence if one stands out, prefixed with the
// spec's "[摘要] " marker. It takes on the role of the first removed
// message rather than gctx.RoleSystem — the context manager's View()
// pulls every system-role message to position 0 unconditionally and
// outside the token budget (spec.md §3: at most one system message, and
// it occupies position 0), so tagging an in-place summary as system would
// yank it out of chronological order and out of budgeting the moment more
// than one run gets compacted in a long session.
func summaryMessage(messages []gctx.Message, start int, removed map[int]bool) gctx.Message {
	var parts []string
	for i := start; i < len(messages) && removed[i]; i++ {
		parts = append(parts, messages[i].Text())
	}
	joined := strings.Join(parts, " ")

	summary := pickImportantSentence(joined)
	if summary == "" {
		summary = firstSentences(joined, 3)
	}

	return gctx.NewTextMessage(messages[start].Role, "[摘要] "+summary)
}

func pickImportantSentence(text string) string {
	for _, s := range splitSentences(text) {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "important") || strings.Contains(lower, "error") || strings.Contains(lower, "must") {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstSentences(text string, n int) string {
	sentences := splitSentences(text)
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return strings.TrimSpace(strings.Join(sentences, " "))
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func flattenAll(messages []gctx.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text())
	}
	return out
}
