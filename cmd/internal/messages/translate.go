package messages

import (
	"context"
	"errors"
)

// ErrNoTranslation is returned by a Translator that has nothing to offer.
var ErrNoTranslation = errors.New("no translation available")

// Translator translates message content into a target language.
type Translator interface {
	Translate(ctx context.Context, text, lang string) (content string, confidence float64, err error)
}

// NoopTranslator never translates. It is the default until a provider is wired.
type NoopTranslator struct{}

// Translate implements Translator.
func (NoopTranslator) Translate(context.Context, string, string) (string, float64, error) {
	return "", 0, ErrNoTranslation
}

// translateForMembers stores a translation of m for every language its room's
// other members prefer. Languages without a translation are skipped.
func (s *Service) translateForMembers(ctx context.Context, messageID, roomID, senderID, content string) error {
	langs, err := s.store.MemberLanguages(ctx, roomID, senderID)
	if err != nil {
		return err
	}

	var errs []error
	for _, lang := range langs {
		text, conf, err := s.translator.Translate(ctx, content, lang)
		if errors.Is(err, ErrNoTranslation) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.store.SaveTranslation(ctx, Translation{
			MessageID:  messageID,
			Language:   lang,
			Content:    text,
			Confidence: conf,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
