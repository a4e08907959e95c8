package services

import "unicode/utf8"

// EstimateTokens approximates a token count as one token per four characters,
// rounded up. Used when real counts are missing; anything it produces is
// flagged as estimated.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
