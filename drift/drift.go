// Package drift detects qualitative degradation of ongoing output: meta
// commentary, tone shifts, repetition, entropy spikes, formatting collapse,
// and hedging. Drift is distinct from outright errors; the heuristics look
// for the stream going off the rails while still producing well-formed text.
//
// The detector is stateful. Each Check updates a bounded rolling history
// (entropy samples, recent deltas, last-seen content) that later checks
// compare against. History is wiped only by an explicit Reset.
package drift

import (
	"fmt"
	"math"
	"strings"
)

// Kind identifies a drift heuristic.
type Kind string

const (
	KindMetaCommentary   Kind = "meta_commentary"
	KindToneShift        Kind = "tone_shift"
	KindRepetition       Kind = "repetition"
	KindEntropySpike     Kind = "entropy_spike"
	KindFormatCollapse   Kind = "format_collapse"
	KindMarkdownCollapse Kind = "markdown_collapse"
	KindHedging          Kind = "hedging"
)

type (
	// Result reports one Check. It is derived from the current content plus
	// the detector's rolling state, so repeated checks of the same content
	// are not idempotent.
	Result struct {
		// Detected reports whether any enabled heuristic fired.
		Detected bool
		// Confidence is the maximum individual heuristic confidence, not a
		// sum: one strong signal is more meaningful than several weak ones.
		Confidence float64
		// Kinds lists every heuristic that fired, in evaluation order.
		Kinds []Kind
		// Detail is a free-text summary of the strongest finding.
		Detail string
	}

	// Config sizes the rolling history and toggles individual heuristics.
	Config struct {
		// HistoryWindow bounds the entropy-sample and recent-delta history.
		HistoryWindow int
		// TailWindow is the number of trailing bytes examined by the
		// windowed heuristics.
		TailWindow int
		// RepetitionThreshold is the duplicate count (same sentence or same
		// 5-gram) at which repetition fires.
		RepetitionThreshold int
		// EntropySigma is the number of standard deviations a delta's
		// entropy must deviate from the rolling mean to fire.
		EntropySigma float64

		// Per-heuristic toggles.
		MetaCommentary   bool
		ToneShift        bool
		Repetition       bool
		EntropySpike     bool
		FormatCollapse   bool
		MarkdownCollapse bool
		Hedging          bool
	}

	// Detector evaluates drift heuristics per content update. Not safe for
	// concurrent use; one orchestrator invocation owns one detector.
	Detector struct {
		cfg Config

		entropy     []float64
		deltas      []string
		last        string
		sawMarkdown bool
	}
)

// DefaultConfig enables every heuristic with the tuning used by the
// orchestrator when the caller does not configure drift explicitly.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:       32,
		TailWindow:          280,
		RepetitionThreshold: 3,
		EntropySigma:        2.5,
		MetaCommentary:      true,
		ToneShift:           true,
		Repetition:          true,
		EntropySpike:        true,
		FormatCollapse:      true,
		MarkdownCollapse:    true,
		Hedging:             true,
	}
}

// NewDetector constructs a detector. Zero-valued tuning fields fall back to
// the defaults; toggles are taken as given.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.TailWindow <= 0 {
		cfg.TailWindow = def.TailWindow
	}
	if cfg.RepetitionThreshold <= 0 {
		cfg.RepetitionThreshold = def.RepetitionThreshold
	}
	if cfg.EntropySigma <= 0 {
		cfg.EntropySigma = def.EntropySigma
	}
	return &Detector{cfg: cfg}
}

// Reset wipes the rolling history. The orchestrator resets the detector at
// the start of every source attempt so history never crosses attempts.
func (d *Detector) Reset() {
	d.entropy = nil
	d.deltas = nil
	d.last = ""
	d.sawMarkdown = false
}

// Check evaluates every enabled heuristic against the full content and the
// delta added since the previous check, then folds the delta into the
// rolling history.
func (d *Detector) Check(content, delta string) Result {
	var res Result
	record := func(k Kind, confidence float64, detail string) {
		res.Detected = true
		res.Kinds = append(res.Kinds, k)
		if confidence > res.Confidence {
			res.Confidence = confidence
			res.Detail = detail
		}
	}

	if d.cfg.MetaCommentary {
		if phrase, ok := d.metaCommentary(content); ok {
			record(KindMetaCommentary, 0.9, fmt.Sprintf("meta commentary %q in trailing window", phrase))
		}
	}
	if d.cfg.ToneShift {
		if shift, ok := d.toneShift(content); ok {
			record(KindToneShift, math.Min(0.5+shift/10, 0.85), fmt.Sprintf("marker density shifted by %.2f per 100 words", shift))
		}
	}
	if d.cfg.Repetition {
		if n, sample, ok := d.repetition(content); ok {
			record(KindRepetition, math.Min(0.6+0.1*float64(n-d.cfg.RepetitionThreshold), 0.95), fmt.Sprintf("%d repetitions of %q", n, sample))
		}
	}
	if d.cfg.EntropySpike {
		if dev, ok := d.entropySpike(delta); ok {
			record(KindEntropySpike, math.Min(0.5+dev/10, 0.9), fmt.Sprintf("delta entropy deviates %.1f sigma from rolling mean", dev))
		}
	}
	if d.cfg.FormatCollapse {
		if phrase, ok := d.formatCollapse(content, delta); ok {
			record(KindFormatCollapse, 0.7, fmt.Sprintf("instruction-like opening %q mid-stream", phrase))
		}
	}
	if d.cfg.MarkdownCollapse {
		if d.markdownCollapse(content) {
			record(KindMarkdownCollapse, 0.65, "markdown density dropped to zero after being non-trivial")
		}
	}
	if d.cfg.Hedging {
		if line, ok := hedgingFirstLine(content); ok {
			record(KindHedging, 0.6, fmt.Sprintf("first line is solely a hedge: %q", line))
		}
	}

	d.push(content, delta)
	return res
}

// push folds the update into the bounded rolling history.
func (d *Detector) push(content, delta string) {
	d.last = content
	if len(delta) >= minEntropySample {
		d.entropy = append(d.entropy, shannonEntropy(delta))
		if len(d.entropy) > d.cfg.HistoryWindow {
			d.entropy = d.entropy[1:]
		}
	}
	if delta != "" {
		d.deltas = append(d.deltas, delta)
		if len(d.deltas) > d.cfg.HistoryWindow {
			d.deltas = d.deltas[1:]
		}
	}
	if markdownDensity(content) > markdownFloor {
		d.sawMarkdown = true
	}
}

// minEntropySample is the smallest delta worth an entropy sample; shorter
// deltas produce noisy estimates.
const minEntropySample = 16

// markdownFloor is the per-kilobyte markdown marker density above which
// content counts as markdown-formatted.
const markdownFloor = 4.0

var metaPhrases = []string{
	"as an ai", "as a language model", "i cannot assist", "i apologize",
	"i'm sorry, but", "i am sorry, but", "my training data", "i don't have access",
	"note: ", "disclaimer:",
}

func (d *Detector) metaCommentary(content string) (string, bool) {
	tail := strings.ToLower(tailWindow(content, d.cfg.TailWindow))
	for _, p := range metaPhrases {
		if strings.Contains(tail, p) {
			return p, true
		}
	}
	return "", false
}

var (
	formalMarkers   = []string{"therefore", "moreover", "furthermore", "consequently", "thus", "hence", "accordingly", "nevertheless"}
	informalMarkers = []string{"gonna", "wanna", "kinda", "sorta", "lol", "btw", "yeah", "stuff", "guys"}
)

// toneShift compares formal/informal marker density between the trailing
// window of the previously seen content and that of the new content. A large
// density delta means the register changed mid-stream.
func (d *Detector) toneShift(content string) (float64, bool) {
	if d.last == "" || len(content) <= len(d.last) {
		return 0, false
	}
	oldTail := tailWindow(d.last, d.cfg.TailWindow)
	newTail := tailWindow(content, d.cfg.TailWindow)
	if wordCount(oldTail) < 20 || wordCount(newTail) < 20 {
		return 0, false
	}
	shift := math.Abs(markerDensity(newTail) - markerDensity(oldTail))
	return shift, shift >= 2.0
}

// markerDensity counts tone markers per 100 words, formal and informal
// combined with opposite signs so a swing in either direction registers.
func markerDensity(s string) float64 {
	words := wordCount(s)
	if words == 0 {
		return 0
	}
	low := strings.ToLower(s)
	var score float64
	for _, m := range formalMarkers {
		score += float64(strings.Count(low, m))
	}
	for _, m := range informalMarkers {
		score -= float64(strings.Count(low, m))
	}
	return score * 100 / float64(words)
}

// repetition counts duplicate sentences and duplicate 5-grams; either kind
// crossing the threshold fires.
func (d *Detector) repetition(content string) (int, string, bool) {
	counts := make(map[string]int)
	for _, s := range splitSentences(content) {
		s = strings.TrimSpace(strings.ToLower(s))
		if len(s) < 12 {
			continue
		}
		counts[s]++
		if counts[s] >= d.cfg.RepetitionThreshold {
			return counts[s], s, true
		}
	}
	words := strings.Fields(strings.ToLower(content))
	grams := make(map[string]int)
	for i := 0; i+5 <= len(words); i++ {
		g := strings.Join(words[i:i+5], " ")
		grams[g]++
		if grams[g] >= d.cfg.RepetitionThreshold {
			return grams[g], g, true
		}
	}
	return 0, "", false
}

// entropySpike compares the delta's Shannon entropy with the rolling
// mean/std-dev of the history window. Deviations in either direction fire:
// a collapse toward repetition lowers entropy, garbage raises it.
func (d *Detector) entropySpike(delta string) (float64, bool) {
	if len(delta) < minEntropySample || len(d.entropy) < 4 {
		return 0, false
	}
	mean, std := meanStd(d.entropy)
	if std < 0.05 {
		std = 0.05
	}
	dev := math.Abs(shannonEntropy(delta)-mean) / std
	return dev, dev >= d.cfg.EntropySigma
}

var instructionOpenings = []string{
	"sure, here", "sure! here", "certainly", "here is", "here's",
	"i'd be happy to", "i would be happy to", "of course",
}

// formatCollapse fires when an instruction-like opening phrase appears at
// the start of the latest delta even though substantive content precedes it.
func (d *Detector) formatCollapse(content, delta string) (string, bool) {
	if len(content)-len(delta) < 80 {
		return "", false
	}
	low := strings.ToLower(strings.TrimSpace(delta))
	for _, p := range instructionOpenings {
		if strings.HasPrefix(low, p) {
			return p, true
		}
	}
	return "", false
}

// markdownCollapse fires when content that previously carried non-trivial
// markdown formatting ends in a trailing window with zero markdown markers.
func (d *Detector) markdownCollapse(content string) bool {
	if !d.sawMarkdown {
		return false
	}
	tail := tailWindow(content, d.cfg.TailWindow)
	if len(tail) < d.cfg.TailWindow/2 {
		return false
	}
	return markdownDensity(tail) == 0
}

var hedges = []string{
	"i think", "i guess", "maybe", "perhaps", "it depends",
	"i'm not sure", "i am not sure", "hard to say",
}

// hedgingFirstLine fires when the first line of the content is nothing but a
// hedge.
func hedgingFirstLine(content string) (string, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	low := strings.ToLower(strings.TrimSpace(line))
	if low == "" || len(low) > 40 {
		return "", false
	}
	for _, h := range hedges {
		if strings.HasPrefix(low, h) {
			return line, true
		}
	}
	return "", false
}

func tailWindow(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func wordCount(s string) int { return len(strings.Fields(s)) }

func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

// markdownDensity counts markdown markers per kilobyte.
func markdownDensity(s string) float64 {
	if s == "" {
		return 0
	}
	markers := strings.Count(s, "#") + strings.Count(s, "```") +
		strings.Count(s, "**") + strings.Count(s, "- ") + strings.Count(s, "](")
	return float64(markers) * 1000 / float64(len(s))
}

// shannonEntropy computes bits per rune over the rune distribution.
func shannonEntropy(s string) float64 {
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var varsum float64
	for _, x := range xs {
		varsum += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(varsum / float64(len(xs)))
}
