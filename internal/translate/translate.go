// Package translate turns extracted source text into the project's target language.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTranslation is returned when a provider answers with no text.
var ErrEmptyTranslation = errors.New("translator returned empty text")

type Request struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

// Translator is the translation collaborator. Implementations must be safe for
// sequential reuse; the dispatcher never calls one concurrently.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

func systemPrompt(req Request) string {
	src := req.SourceLanguage
	if src == "" {
		src = "the source language"
	}
	tgt := req.TargetLanguage
	if tgt == "" {
		tgt = "English"
	}
	return fmt.Sprintf(
		"You translate manga speech bubbles and captions from %s to %s. "+
			"Keep the tone and register of the dialogue. "+
			"Reply with the translated text only, without quotes, notes or romanization.",
		src, tgt,
	)
}

func cleanOutput(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyTranslation
	}
	return s, nil
}
