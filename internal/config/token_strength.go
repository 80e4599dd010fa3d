package config

import (
	"fmt"
	"strings"

	zxcvbn "github.com/ccojocar/zxcvbn-go"
)

// minTokenScore is the lowest zxcvbn score (0-4) accepted without a warning.
const minTokenScore = 3

// tokenScore rates token with zxcvbn. hints are penalized as guessable
// substrings, so a token built from the account name scores low.
func tokenScore(token string, hints ...string) int {
	inputs := []string{"coffer", "pathofexile"}
	for _, h := range hints {
		if h != "" {
			inputs = append(inputs, strings.ToLower(h))
		}
	}
	return zxcvbn.PasswordStrength(token, inputs).Score
}

// IsWeakToken reports whether a non-empty token scores below minTokenScore.
// The empty token disables auth and is reported separately.
func IsWeakToken(token string, hints ...string) bool {
	return token != "" && tokenScore(token, hints...) < minTokenScore
}

// TokenWarnings lists startup warnings about the admin token.
func (c *EnvConfig) TokenWarnings() []string {
	hints := []string{c.AccountName, c.League}
	switch {
	case c.AdminToken == "":
		return []string{"COFFER_ADMIN_TOKEN is empty, API authentication is disabled"}
	case IsWeakToken(c.AdminToken, hints...):
		return []string{fmt.Sprintf("COFFER_ADMIN_TOKEN is weak (score %d, want at least %d)",
			tokenScore(c.AdminToken, hints...), minTokenScore)}
	}
	return nil
}
