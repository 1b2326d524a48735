package core

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnrecognizedClassification is reported when a non-empty token maps to
// neither canonical value of its enumeration.
var ErrUnrecognizedClassification = errors.New("unrecognized classification")

// ClassificationError carries the field and raw token that could not be
// classified, plus the best-effort label the normalizer produced.
type ClassificationError struct {
	Field string
	Token string
	Label string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s: %s token %q (kept as %q)", ErrUnrecognizedClassification, e.Field, e.Token, e.Label)
}

func (e *ClassificationError) Unwrap() error {
	return ErrUnrecognizedClassification
}

// CapitalizeToken trims s and returns it with the first rune upper-cased
// and the rest lower-cased. Empty, "null" and "undefined" collapse to "".
func CapitalizeToken(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}
	lower := strings.ToLower(t)
	if lower == "null" || lower == "undefined" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(lower)
	return string(unicode.ToUpper(r)) + lower[size:]
}

// NormalizePolarity maps a backend token to Credit or Debit. Unrecognized
// tokens come back with normalized casing; it never fails.
func NormalizePolarity(token string) Polarity {
	p, _ := ClassifyPolarity(token)
	return p
}

// ClassifyPolarity is NormalizePolarity plus a *ClassificationError when a
// non-empty token is not recognized.
func ClassifyPolarity(token string) (Polarity, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	switch {
	case t == "":
		return "", nil
	case t == "1" || strings.HasPrefix(t, "deb"):
		return Debit, nil
	case t == "0" || strings.HasPrefix(t, "cre"):
		return Credit, nil
	}
	label := CapitalizeToken(t)
	if label == "" {
		return "", nil
	}
	return Polarity(label), &ClassificationError{Field: "tipoLancamento", Token: token, Label: label}
}

// NormalizeStatus maps a backend token to Open or Settled, with the same
// fallback rule as NormalizePolarity.
func NormalizeStatus(token string) Status {
	s, _ := ClassifyStatus(token)
	return s
}

// ClassifyStatus is NormalizeStatus plus a *ClassificationError for
// unrecognized non-empty tokens.
func ClassifyStatus(token string) (Status, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	switch {
	case t == "":
		return "", nil
	case strings.HasPrefix(t, "baix") || t == "1" || t == "paid" || t == "settled" || t == "closed":
		return Settled, nil
	case strings.HasPrefix(t, "aber") || t == "0" || t == "open":
		return Open, nil
	}
	label := CapitalizeToken(t)
	if label == "" {
		return "", nil
	}
	return Status(label), &ClassificationError{Field: "situacao", Token: token, Label: label}
}

// Diagnostic records one unrecognized classification token met while
// adapting an entry.
type Diagnostic struct {
	EntryID int64  `json:"entryId"`
	Field   string `json:"field"`
	Token   string `json:"token"`
	Label   string `json:"label"`
}

// DiagnosticFrom converts a classification error into a Diagnostic for the
// given entry. ok is false when err is not a *ClassificationError.
func DiagnosticFrom(entryID int64, err error) (Diagnostic, bool) {
	var ce *ClassificationError
	if !errors.As(err, &ce) {
		return Diagnostic{}, false
	}
	return Diagnostic{EntryID: entryID, Field: ce.Field, Token: ce.Token, Label: ce.Label}, true
}
