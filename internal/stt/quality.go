package stt

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	minTokensForFragmentCheck = 4
	shortTokenRunes           = 2
	fragmentRatioThreshold    = 0.35
)

var (
	tokenPattern = regexp.MustCompile(`[a-z0-9çğıöşüâîû]+`)
	// "implementasyon" split into syllables by the recognizer.
	splitArtifact = regexp.MustCompile(`\bip\s+le\s+mantasyon\b`)

	turkishLower = cases.Lower(language.Turkish)
)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(turkishLower.String(text), -1)
}

// fold lowercases text and strips diacritics so the dotless i and accented
// letters compare equal to their ASCII base.
func fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, turkishLower.String(text))
	if err != nil {
		folded = strings.ToLower(text)
	}
	return strings.ReplaceAll(folded, "ı", "i")
}

func shortTokenRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 1.0
	}
	short := 0
	for _, tok := range tokens {
		if len([]rune(tok)) <= shortTokenRunes {
			short++
		}
	}
	return float64(short) / float64(len(tokens))
}

// LooksFragmented reports whether the recognizer appears to have chopped
// words into short pieces.
func LooksFragmented(text string) bool {
	if text == "" {
		return true
	}
	tokens := tokenize(text)
	if len(tokens) < minTokensForFragmentCheck {
		return false
	}
	if shortTokenRatio(tokens) >= fragmentRatioThreshold {
		return true
	}
	return splitArtifact.MatchString(fold(text))
}

// FragmentRatio is the share of tokens with at most two letters; 1.0 when
// there are no tokens at all.
func FragmentRatio(text string) float64 {
	return shortTokenRatio(tokenize(text))
}

// QualityScore ranks competing passes. It is never reported as confidence.
func QualityScore(pass DecodePass) float64 {
	score := pass.Confidence - 0.10*FragmentRatio(pass.Text)
	if LooksFragmented(pass.Text) {
		score -= 0.20
	}
	return score
}
