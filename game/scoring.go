package game

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxGuessPoints    = 100
	minGuessPoints    = 50
	guessOrderPenalty = 10
	hintRevealTenths  = 3
	hintShortToken    = 3
	hintPlaceholder   = "_"
)

// GuessPoints scores a correct guess. elapsed must already be clamped to
// the drawing time limit by the caller.
func GuessPoints(elapsed time.Duration, priorCorrect int) int {
	secs := int(elapsed / time.Second)
	if secs < 0 {
		secs = 0
	}
	points := maxGuessPoints - secs/2 - guessOrderPenalty*priorCorrect
	return max(minGuessPoints, points)
}

func NormalizeGuess(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func IsCorrectGuess(text, word string) bool {
	return NormalizeGuess(text) == NormalizeGuess(word)
}

// WordHint reveals the first 30% (rounded up) of every token longer than
// three runes and masks the rest. Short tokens are shown whole.
func WordHint(word string) string {
	tokens := strings.Split(word, " ")
	for i, token := range tokens {
		n := utf8.RuneCountInString(token)
		if n <= hintShortToken {
			continue
		}
		reveal := (n*hintRevealTenths + 9) / 10
		runes := []rune(token)
		tokens[i] = string(runes[:reveal]) + strings.Repeat(hintPlaceholder, n-reveal)
	}
	return strings.Join(tokens, " ")
}
