package grounding

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-grounding/pkg/models"
)

// stopWords never carry meaning for field matching. Numbers are dropped
// separately so a "LIMIT 5000" in a question never becomes a term.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true, "in": true,
	"on": true, "for": true, "and": true, "or": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "with": true, "from": true, "at": true,
	"as": true, "it": true, "its": true, "this": true, "that": true, "these": true,
	"what": true, "which": true, "who": true, "how": true, "me": true, "my": true,
	"our": true, "we": true, "i": true, "do": true, "does": true, "did": true,
	"show": true, "list": true, "give": true, "get": true, "find": true,
	"calculate": true, "compute": true, "display": true, "return": true,
	"tell": true, "please": true, "all": true, "each": true, "per": true,
	"by": true, "across": true, "limit": true, "top": true, "where": true,
	"when": true, "there": true, "have": true, "has": true, "their": true,
	"over": true, "during": true, "since": true, "than": true, "then": true,
}

// AggregationCues map words that signal aggregation to the aggregate they
// prefer. AggregateNone means intent without a preferred aggregate.
var AggregationCues = map[string]models.Aggregate{
	"total":      models.AggregateSum,
	"sum":        models.AggregateSum,
	"average":    models.AggregateAverage,
	"avg":        models.AggregateAverage,
	"mean":       models.AggregateAverage,
	"count":      models.AggregateCount,
	"number":     models.AggregateCount,
	"many":       models.AggregateCount,
	"rate":       models.AggregateNone,
	"growth":     models.AggregateNone,
	"ratio":      models.AggregateNone,
	"percent":    models.AggregateNone,
	"percentage": models.AggregateNone,
	"median":     models.AggregateNone,
	"min":        models.AggregateMin,
	"minimum":    models.AggregateMin,
	"lowest":     models.AggregateMin,
	"max":        models.AggregateMax,
	"maximum":    models.AggregateMax,
	"highest":    models.AggregateMax,
}

// IsCue reports whether a normalized word is an aggregation cue.
func IsCue(word string) bool {
	_, ok := AggregationCues[word]
	return ok
}

// IsStopWord reports whether a lower-cased word is ignored for matching.
func IsStopWord(word string) bool {
	return stopWords[word]
}

// Words splits text into lower-cased alphanumeric words. Underscores and
// punctuation separate words.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Singular normalizes a word for comparison.
func Singular(word string) string {
	if len(word) <= 3 {
		return word
	}
	return inflection.Singular(word)
}

// IsNumber reports whether a word is all digits.
func IsNumber(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return word != ""
}

// Terms turns text into the normalized terms used on both sides of matching:
// stop words, cues and numbers removed, the rest singularised.
func Terms(text string) []string {
	var out []string
	for _, w := range Words(text) {
		if IsStopWord(w) || IsNumber(w) {
			continue
		}
		s := Singular(w)
		if IsCue(w) || IsCue(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Vocabulary is the matchable surface of one grounded field.
type Vocabulary struct {
	// NameKey is the field name's terms with cue words removed, so
	// "total_revenue" is keyed as "revenue".
	NameKey []string
	// NameTokens is every singularised token of the field name.
	NameTokens []string
	// Phrases are the label and synonyms as term sequences.
	Phrases [][]string
	// Description holds description terms.
	Description map[string]bool
	// Identifier fields (keys and *_id columns) only match by exact name.
	Identifier bool
}

// NewVocabulary derives the vocabulary of a grounded field.
func NewVocabulary(f *models.GroundedField) *Vocabulary {
	v := &Vocabulary{
		NameKey:     Terms(f.Name),
		Description: map[string]bool{},
		Identifier:  f.PrimaryKey || f.Name == "id" || strings.HasSuffix(f.Name, "_id"),
	}
	for _, w := range Words(f.Name) {
		v.NameTokens = append(v.NameTokens, Singular(w))
	}

	addPhrase := func(text string) {
		if p := Terms(text); len(p) > 0 {
			v.Phrases = append(v.Phrases, p)
		}
	}
	if f.Label != "" {
		addPhrase(f.Label)
	}
	for _, s := range f.Synonyms {
		addPhrase(s)
	}

	for _, t := range Terms(f.Description) {
		v.Description[t] = true
	}
	return v
}

// Match weights per matched term.
const (
	WeightExactName   = 3.0
	WeightPhrase      = 2.5
	WeightPartialName = 2.0
	WeightDescription = 1.0
	WeightViewName    = 0.5
)

// MatchKind says how a term sequence matched a field.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchDescription
	MatchPartialName
	MatchPhrase
	MatchExactName
)

func (k MatchKind) String() string {
	switch k {
	case MatchExactName:
		return "name"
	case MatchPhrase:
		return "phrase"
	case MatchPartialName:
		return "partial"
	case MatchDescription:
		return "description"
	default:
		return "none"
	}
}

// Score matches a term sequence against the vocabulary and returns the best
// match kind and its score.
func (v *Vocabulary) Score(terms []string) (MatchKind, float64) {
	n := float64(len(terms))
	if len(terms) == 0 {
		return MatchNone, 0
	}

	if equalTerms(terms, v.NameTokens) || (len(v.NameKey) > 0 && equalTerms(terms, v.NameKey)) {
		return MatchExactName, WeightExactName * n
	}
	if v.Identifier {
		return MatchNone, 0
	}
	for _, p := range v.Phrases {
		if equalTerms(terms, p) {
			return MatchPhrase, WeightPhrase * n
		}
	}
	if len(terms) == 1 {
		for _, t := range v.NameKey {
			if t == terms[0] {
				return MatchPartialName, WeightPartialName
			}
		}
		if v.Description[terms[0]] {
			return MatchDescription, WeightDescription
		}
	}
	return MatchNone, 0
}

func equalTerms(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
