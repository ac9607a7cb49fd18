// Package match resolves "find person by name" queries against a roster,
// tolerating small typos and missing diacritics.
//
// Matching is two-phase: an exact-word pass (every query word must match a
// candidate word exactly after normalization) and, only when that fails, a
// similarity pass using Levenshtein distance with a length-scaled error
// budget AND a minimum similarity ratio. Both conditions must hold, which
// keeps short words like "Ana"/"Ale" from false-matching.
package match

import (
	"strings"
	"unicode"

	"github.com/stagelink/chatbot/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// shortWordLen is the rune length at or below which only one edit is
	// tolerated; longer words get two.
	shortWordLen = 6
	// minSimilarity is the normalized-similarity floor a fuzzy word match
	// must also clear.
	minSimilarity = 0.75
)

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases a name and strips diacritics, so "João" and "joao"
// compare equal.
func Normalize(s string) string {
	out, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// words splits a normalized name into comparable tokens, dropping
// punctuation-only fragments.
func words(s string) []string {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// levenshtein computes the edit distance between two strings by rune.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// similarWords reports whether two normalized words are close enough to be
// treated as the same name fragment, and the similarity ratio achieved.
func similarWords(q, c string) (bool, float64) {
	budget := 1
	if len([]rune(q)) > shortWordLen {
		budget = 2
	}
	dist := levenshtein(q, c)
	longest := max(len([]rune(q)), len([]rune(c)))
	if longest == 0 {
		return false, 0
	}
	ratio := 1 - float64(dist)/float64(longest)
	return dist <= budget && ratio >= minSimilarity, ratio
}

// exactMatch reports whether every query word matches some candidate word
// exactly.
func exactMatch(queryWords, candidateWords []string) bool {
	if len(queryWords) == 0 {
		return false
	}
	for _, qw := range queryWords {
		found := false
		for _, cw := range candidateWords {
			if qw == cw {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// fuzzyScore returns whether every query word has a similar candidate word,
// and the average similarity achieved across query words.
func fuzzyScore(queryWords, candidateWords []string) (bool, float64) {
	if len(queryWords) == 0 {
		return false, 0
	}
	var total float64
	for _, qw := range queryWords {
		best := -1.0
		for _, cw := range candidateWords {
			// An exact word counts as similarity 1 without the budget check.
			if qw == cw {
				best = 1
				break
			}
			if ok, ratio := similarWords(qw, cw); ok && ratio > best {
				best = ratio
			}
		}
		if best < 0 {
			return false, 0
		}
		total += best
	}
	return true, total / float64(len(queryWords))
}

// FindPerson resolves a name query against a roster. An exact match returns
// the record directly; a similarity match returns a "did you mean" shape
// carrying the candidate; otherwise the result is PersonMatchNone.
func FindPerson(query string, roster []models.Person) models.PersonMatch {
	queryWords := words(query)
	if len(queryWords) == 0 {
		return models.PersonMatch{Kind: models.PersonMatchNone, Query: query}
	}

	for i := range roster {
		if exactMatch(queryWords, words(roster[i].Name)) {
			p := roster[i]
			return models.PersonMatch{Kind: models.PersonMatchExact, Person: &p, Query: query}
		}
	}

	bestScore := -1.0
	bestIdx := -1
	for i := range roster {
		if ok, score := fuzzyScore(queryWords, words(roster[i].Name)); ok && score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx >= 0 {
		p := roster[bestIdx]
		return models.PersonMatch{Kind: models.PersonMatchSuggestion, Person: &p, Query: query}
	}

	return models.PersonMatch{Kind: models.PersonMatchNone, Query: query}
}
