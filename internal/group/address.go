package group

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// Thresholds for the phonetic fallback. A phonetically-overlapping name
// is accepted at 0.70 Jaro-Winkler; without phonetic overlap the bar
// rises to 0.85 so loose string similarity alone cannot hijack a turn.
const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// addressee decides who a player message is aimed at when no explicit
// target id came with the request. Two stages:
//
//  1. Literal name scan: the lowercase text is searched for each
//     participant's full name and every name word of length ≥ 3,
//     longest keys first.
//  2. Phonetic fallback: each text token is Double-Metaphone-encoded
//     and compared against participant name tokens; phonetic candidates
//     are ranked by Jaro-Winkler. This is what turns "hey marcas" into
//     marcus after a sloppy transcription.
//
// Returns the empty string when nobody is singled out, in which case
// the salience ranking alone picks the primary responder.
func addressee(text string, names map[string]string) string {
	lower := strings.ToLower(text)
	if id := matchLiteral(lower, names); id != "" {
		return id
	}
	return matchPhonetic(lower, names)
}

// indexEntry is one searchable name fragment.
type indexEntry struct {
	key string
	id  string
}

// nameStopwords keeps filler words inside names like "Vera the Elder"
// out of the literal index.
var nameStopwords = map[string]bool{
	"the": true, "and": true, "von": true, "van": true, "der": true,
}

// matchLiteral scans for indexed name fragments, longest first so
// "vera the elder" wins over "vera" when both are present.
func matchLiteral(lower string, names map[string]string) string {
	var index []indexEntry
	for id, name := range names {
		nameLower := strings.ToLower(name)
		index = append(index, indexEntry{key: nameLower, id: id})
		for word := range strings.FieldsSeq(nameLower) {
			if len(word) >= 3 && !nameStopwords[word] {
				index = append(index, indexEntry{key: word, id: id})
			}
		}
	}
	slices.SortFunc(index, func(a, b indexEntry) int {
		if d := len(b.key) - len(a.key); d != 0 {
			return d
		}
		return strings.Compare(a.id, b.id)
	})
	for _, e := range index {
		if strings.Contains(lower, e.key) {
			return e.id
		}
	}
	return ""
}

// matchPhonetic ranks participants by how much any text token sounds
// like any of their name tokens.
func matchPhonetic(lower string, names map[string]string) string {
	textTokens := strings.Fields(lower)
	if len(textTokens) == 0 {
		return ""
	}
	textCodes := metaphoneCodes(textTokens)

	bestID := ""
	bestScore := 0.0
	bestPhonetic := false
	for id, name := range names {
		nameLower := strings.ToLower(name)
		nameTokens := strings.Fields(nameLower)
		phonetic := codesOverlap(textCodes, metaphoneCodes(nameTokens))

		score := 0.0
		for _, tt := range textTokens {
			for _, nt := range nameTokens {
				if s := matchr.JaroWinkler(tt, nt, false); s > score {
					score = s
				}
			}
		}

		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestID, bestScore, bestPhonetic = id, score, true
			}
		case !phonetic && !bestPhonetic && score >= fuzzyThreshold:
			if score > bestScore {
				bestID, bestScore = id, score
			}
		}
	}
	return bestID
}

// metaphoneCodes unions the Double Metaphone codes of the tokens,
// skipping empties from vowel-only or too-short words.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
