package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-grounding/pkg/grounding"
	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// Term is one normalized question word that can match a field.
type Term struct {
	Text string
	// Pos is the term's index in Analysis.Terms.
	Pos int
	// Group is set for terms following "by", "per", "each" or "across".
	Group bool
	// Segment numbers runs of terms that may form one multi-word match.
	Segment int
}

// TimeRange is a relative date window named in the question.
type TimeRange struct {
	Unit  string
	Count int // 0 means the current unit
}

// Analysis is the planner's reading of a question.
type Analysis struct {
	Question string
	Terms    []Term
	// Intent is set when an aggregation cue appears.
	Intent bool
	// Cues holds the aggregates the cue words prefer, in question order.
	Cues []models.Aggregate
	Time *TimeRange
}

var (
	groupMarkers = map[string]bool{"by": true, "per": true, "each": true, "across": true}
	stopMarkers  = map[string]bool{
		"for": true, "in": true, "where": true, "with": true, "from": true,
		"during": true, "over": true, "since": true, "of": true, "on": true,
	}
	conjunctions = map[string]bool{"and": true, "or": true}

	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

	lastPeriodPattern = regexp.MustCompile(
		`\b(?:(?:in|over|during|for)\s+)?(?:the\s+)?(?:last|past|previous)\s+(?:(\d+)\s+)?(day|week|month|quarter|year)s?\b`)
	currentPeriodPattern = regexp.MustCompile(
		`\b(?:(?:in|during|for)\s+)?(?:this|current)\s+(day|week|month|quarter|year)\b`)
	todayPattern = regexp.MustCompile(`\btoday\b`)
)

// Analyze splits a question into matchable terms, aggregation intent and an
// optional relative time window. Numbers never become terms, so a limit in
// the question text has no effect on the plan.
func Analyze(question string) *Analysis {
	lower := strings.ToLower(question)
	a := &Analysis{Question: question}

	removed := a.extractTime(lower)

	segment := 0
	group := false
	boundary := true
	for _, loc := range wordPattern.FindAllStringIndex(lower, -1) {
		if inRanges(loc, removed) {
			if !boundary {
				segment++
				boundary = true
			}
			group = false
			continue
		}

		w := lower[loc[0]:loc[1]]
		switch {
		case groupMarkers[w]:
			segment++
			group, boundary = true, true
			continue
		case stopMarkers[w]:
			if !boundary || group {
				segment++
			}
			group, boundary = false, true
			continue
		case conjunctions[w]:
			if !boundary {
				segment++
			}
			boundary = true
			continue
		}

		s := grounding.Singular(w)
		if agg, ok := grounding.AggregationCues[w]; ok {
			a.addCue(agg)
			continue
		}
		if agg, ok := grounding.AggregationCues[s]; ok {
			a.addCue(agg)
			continue
		}
		if grounding.IsStopWord(w) || grounding.IsNumber(w) {
			continue
		}

		a.Terms = append(a.Terms, Term{Text: s, Pos: len(a.Terms), Group: group, Segment: segment})
		boundary = false
	}
	return a
}

func (a *Analysis) addCue(agg models.Aggregate) {
	a.Intent = true
	if agg != models.AggregateNone {
		a.Cues = append(a.Cues, agg)
	}
}

// extractTime records the first time phrase and returns the byte ranges of
// every time phrase so their words are not matched against fields.
func (a *Analysis) extractTime(lower string) [][]int {
	var removed [][]int

	for _, m := range lastPeriodPattern.FindAllStringSubmatchIndex(lower, -1) {
		removed = append(removed, m[:2])
		if a.Time == nil {
			count := 1
			if m[2] >= 0 {
				if n, err := strconv.Atoi(lower[m[2]:m[3]]); err == nil && n > 0 {
					count = n
				}
			}
			a.Time = &TimeRange{Unit: lower[m[4]:m[5]], Count: count}
		}
	}
	for _, m := range currentPeriodPattern.FindAllStringSubmatchIndex(lower, -1) {
		removed = append(removed, m[:2])
		if a.Time == nil {
			a.Time = &TimeRange{Unit: lower[m[2]:m[3]]}
		}
	}
	for _, m := range todayPattern.FindAllStringIndex(lower, -1) {
		removed = append(removed, m)
		if a.Time == nil {
			a.Time = &TimeRange{Unit: "day"}
		}
	}
	return removed
}

func inRanges(loc []int, ranges [][]int) bool {
	for _, r := range ranges {
		if loc[0] >= r[0] && loc[1] <= r[1] {
			return true
		}
	}
	return false
}

// TermTexts returns the text of terms[start:end].
func (a *Analysis) TermTexts(start, end int) []string {
	out := make([]string, 0, end-start)
	for _, t := range a.Terms[start:end] {
		out = append(out, t.Text)
	}
	return out
}

// prefersAggregate reports whether a cue asked for agg. A count cue accepts
// distinct counts.
func (a *Analysis) prefersAggregate(agg models.Aggregate) bool {
	for _, c := range a.Cues {
		if c == agg || (c == models.AggregateCount && agg == models.AggregateCountDistinct) {
			return true
		}
	}
	return false
}
