// Package moderation classifies translated content into allow, flag, mask or
// block verdicts. The engine is a pure function of its policy and input.
package moderation

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Policy configures the engine. MinAge maps mature and explicit ratings to
// the youngest permitted reader; missing entries default to 18.
type Policy struct {
	MinAge    map[Rating]int
	MaskTerms []string
	FlagTerms []string
}

const defaultMinAge = 18

// DefaultPolicy returns the built-in keyword lists and age limits.
func DefaultPolicy() Policy {
	return Policy{
		MinAge: map[Rating]int{
			RatingMature:   defaultMinAge,
			RatingExplicit: defaultMinAge,
		},
		MaskTerms: []string{"nsfw", "gore"},
		FlagTerms: []string{"explicit", "violence", "drugs"},
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	minAge    map[Rating]int
	maskTerms []string
	flagTerms []string
}

// New validates policy and returns an engine with normalized keyword lists.
func New(policy Policy) (*Engine, error) {
	e := &Engine{
		minAge: map[Rating]int{
			RatingMature:   defaultMinAge,
			RatingExplicit: defaultMinAge,
		},
		maskTerms: normalizeTerms(policy.MaskTerms),
		flagTerms: normalizeTerms(policy.FlagTerms),
	}

	for rating, age := range policy.MinAge {
		if rating != RatingMature && rating != RatingExplicit {
			return nil, fmt.Errorf("minimum age configured for rating %q; only mature and explicit are age gated", rating)
		}
		if age < 0 {
			return nil, fmt.Errorf("minimum age for %s must be >= 0, got %d", rating, age)
		}
		e.minAge[rating] = age
	}

	mask := make(map[string]bool, len(e.maskTerms))
	for _, t := range e.maskTerms {
		mask[t] = true
	}
	var dup []string
	for _, t := range e.flagTerms {
		if mask[t] {
			dup = append(dup, t)
		}
	}
	if len(dup) > 0 {
		return nil, errors.New("terms listed as both mask and flag: " + strings.Join(dup, ", "))
	}
	return e, nil
}

// Moderate evaluates req. Rules run in order and the first match wins:
// input validation, the age gate, mask terms, flag terms.
func (e *Engine) Moderate(req Request) Result {
	if !req.ContentRating.Valid() {
		return Result{Action: ActionBlock, Reason: ReasonInvalidRating}
	}
	if req.UserAge != nil && *req.UserAge < 0 {
		return Result{Action: ActionBlock, Reason: ReasonInvalidAge}
	}

	if minAge, gated := e.minAge[req.ContentRating]; gated && req.UserAge != nil && *req.UserAge < minAge {
		return Result{Action: ActionBlock, Reason: ReasonAgeRestriction}
	}

	original := normalize(req.OriginalText)
	translated := normalize(req.TranslatedText)
	if containsAny(original, translated, e.maskTerms) {
		return Result{Action: ActionMask, Reason: ReasonKeywordMatch}
	}
	if containsAny(original, translated, e.flagTerms) {
		return Result{Action: ActionFlag, Reason: ReasonKeywordMatch}
	}
	return Result{Action: ActionAllow}
}

func containsAny(a, b string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(a, t) || strings.Contains(b, t) {
			return true
		}
	}
	return false
}

// normalize folds compatibility forms (full-width Latin, ligatures) and case
// so that "ＮＳＦＷ" and "nsfw" compare equal.
func normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		term = normalize(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}
