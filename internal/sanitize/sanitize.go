// Package sanitize maps user-supplied collection names to storage-safe
// identifiers.
//
// The underlying vector store requires collection names to be 3-63
// characters of [A-Za-z0-9_-], starting and ending with an alphanumeric
// character, with no ".." and no IPv4-literal shape. Sanitize produces such
// an identifier deterministically from any display name; Validate checks a
// name against the rules without modifying it.
package sanitize

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// MinLength and MaxLength bound storage identifiers.
	MinLength = 3
	MaxLength = 63

	// truncateBase is the length an over-long identifier is cut to before
	// the hash suffix is appended: 54 + "_" + 8 hex chars = 63.
	truncateBase = 54
)

var (
	// ErrEmptyName indicates an empty or whitespace-only name.
	ErrEmptyName = errors.New("name must not be empty")

	// ErrInvalidName indicates a name that violates the identifier rules.
	ErrInvalidName = errors.New("invalid collection name")
)

var ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// dotRunPattern collapses runs of literal dots. Dots are already replaced by
// the charset pass, so this only matters if that pass ever changes.
var dotRunPattern = regexp.MustCompile(`\.{2,}`)

// Sanitize converts a display name into a storage identifier.
//
// Non-ASCII names are transliterated via NFKD decomposition; an MD5-derived
// suffix keeps names unique when distinct inputs collapse to the same ASCII
// skeleton. The returned bool reports whether the identifier differs from
// the trimmed input.
func Sanitize(name string) (string, bool, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false, ErrEmptyName
	}

	// IPv4-shaped names are rejected by the store; prefix before any
	// further processing so the shape is broken up.
	base := trimmed
	if ipv4Pattern.MatchString(base) {
		base = "kb_" + base
	}

	working := base
	if !isASCII(working) {
		ascii := asciiFold(working)
		if len(strings.TrimSpace(ascii)) < MinLength {
			working = "kb_" + md5Hex(base)[:12]
		} else {
			working = ascii + "_" + md5Hex(base)[:8]
		}
	}

	var b strings.Builder
	b.Grow(len(working))
	for _, r := range working {
		if isIdentRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := dotRunPattern.ReplaceAllString(b.String(), "_")
	s = strings.TrimFunc(s, func(r rune) bool { return !isAlnum(r) })

	if s == "" {
		s = "kb_default"
	} else if !isAlnum(rune(s[0])) {
		s = "kb_" + s
	}
	if !isAlnum(rune(s[len(s)-1])) {
		s += "_kb"
	}

	if len(s) < MinLength {
		s += "_" + md5Hex(base)[:8]
		if len(s) > MaxLength {
			s = s[:MaxLength]
		}
	} else if len(s) > MaxLength {
		s = s[:truncateBase] + "_" + md5Hex(base)[:8]
	}

	return s, s != trimmed, nil
}

// Validate reports whether name is already a legal storage identifier.
// It is independent of Sanitize and is used to decide whether sanitization
// is necessary at all.
func Validate(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyName
	}
	if len(trimmed) < MinLength {
		return errInvalid("must be at least 3 characters")
	}
	if len(trimmed) > MaxLength {
		return errInvalid("must be at most 63 characters")
	}
	if !isAlnum(rune(trimmed[0])) || !isAlnum(rune(trimmed[len(trimmed)-1])) {
		return errInvalid("must start and end with a letter or digit")
	}
	for _, r := range trimmed {
		if !isIdentRune(r) {
			return errInvalid("may only contain letters, digits, underscores and hyphens")
		}
	}
	if strings.Contains(trimmed, "..") {
		return errInvalid("must not contain consecutive dots")
	}
	if ipv4Pattern.MatchString(trimmed) {
		return errInvalid("must not look like an IPv4 address")
	}
	return nil
}

func errInvalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidName, reason)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

// asciiFold decomposes s with NFKD and drops everything outside ASCII,
// keeping the Latin skeleton of accented and full-width characters.
func asciiFold(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isIdentRune(r rune) bool {
	return isAlnum(r) || r == '_' || r == '-'
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
