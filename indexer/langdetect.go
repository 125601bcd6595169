package indexer

import (
	"strings"
	"unicode"
)

// Language detection here is intentionally small: a script check for
// non-Latin text and a stopword vote for the major Latin-script languages.
// Misclassification only costs a ranking nudge at query time, so accuracy
// beyond "usually right" is not worth a model.

const (
	detectMinChars  = 200
	detectHeadChars = 1000
)

var latinStopwords = map[string][]string{
	"en": {"the", "and", "of", "to", "in", "is", "that", "it", "for", "with", "was", "this"},
	"de": {"der", "die", "und", "das", "ist", "nicht", "ein", "eine", "mit", "auf", "für", "sich"},
	"fr": {"le", "la", "les", "et", "des", "est", "une", "dans", "pour", "que", "qui", "pas"},
	"es": {"el", "la", "los", "las", "que", "una", "por", "con", "para", "como", "más", "pero"},
	"it": {"il", "la", "che", "di", "non", "una", "per", "con", "del", "sono", "della", "anche"},
	"pt": {"o", "a", "os", "que", "uma", "para", "com", "não", "por", "mais", "como", "dos"},
	"nl": {"de", "het", "een", "van", "en", "dat", "niet", "voor", "met", "zijn", "aan", "ook"},
}

// DetectLanguage guesses the ISO 639-1 code for text, or returns "" when the
// text is too short or the guess is too weak to record.
func DetectLanguage(text string) string {
	if len(text) < detectMinChars {
		return ""
	}
	head := text
	if len(head) > detectHeadChars {
		head = head[:detectHeadChars]
	}

	if lang := detectByScript(head); lang != "" {
		return lang
	}
	return detectByStopwords(head)
}

// detectByScript answers for scripts that identify a language family
// directly.
func detectByScript(text string) string {
	counts := map[string]int{}
	total := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Greek, r):
			counts["el"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Hebrew, r):
			counts["he"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Thai, r):
			counts["th"]++
		case unicode.Is(unicode.Devanagari, r):
			counts["hi"]++
		}
	}
	if total == 0 {
		return ""
	}

	// Kana among Han means Japanese, not Chinese.
	if counts["ja"] > 0 && counts["zh"] > 0 {
		counts["ja"] += counts["zh"]
		counts["zh"] = 0
	}

	for lang, n := range counts {
		if n*2 > total {
			return lang
		}
	}
	return ""
}

// detectByStopwords votes each Latin-script language by its most common
// function words.
func detectByStopwords(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < 20 {
		return ""
	}

	present := map[string]int{}
	for _, w := range words {
		present[strings.Trim(w, ".,;:!?()\"'")]++
	}

	bestLang, bestScore := "", 0
	for lang, stops := range latinStopwords {
		score := 0
		for _, s := range stops {
			score += present[s]
		}
		if score > bestScore {
			bestLang, bestScore = lang, score
		}
	}

	// Require a real signal: at least one stopword hit per 25 words.
	if bestScore*25 < len(words) {
		return ""
	}
	return bestLang
}
