package messages

import (
	"context"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxContentRunes bounds message content after sanitizing.
const MaxContentRunes = 4000

// Moderator decides whether content may be posted.
type Moderator interface {
	Allow(ctx context.Context, content string) (bool, error)
}

// KeywordModerator blocks content matching a word list. It stands in until a
// real moderation service is configured.
type KeywordModerator struct {
	re *regexp.Regexp
}

// NewKeywordModerator blocks any of words as whole words, case-insensitively.
func NewKeywordModerator(words ...string) *KeywordModerator {
	if len(words) == 0 {
		words = []string{"spam", "scam"}
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	return &KeywordModerator{re: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)}
}

// Allow implements Moderator.
func (m *KeywordModerator) Allow(_ context.Context, content string) (bool, error) {
	return !m.re.MatchString(content), nil
}

// Sanitizer strips markup from user content.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer returns a sanitizer that removes every HTML element.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean returns s without markup, trimmed.
func (s *Sanitizer) Clean(in string) string {
	return strings.TrimSpace(s.policy.Sanitize(in))
}
