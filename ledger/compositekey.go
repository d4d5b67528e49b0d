package ledger

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	compositeKeyNamespace = "\x00"
	minUnicodeRuneValue   = 0
	maxUnicodeRuneValue   = utf8.MaxRune
)

// CreateCompositeKey joins objectType and attributes into a key whose prefixes group related entries:
// "\x00" + objectType + "\x00" + attr1 + "\x00" + ... + attrN + "\x00".
func CreateCompositeKey(objectType string, attributes []string) (string, error) {
	if err := validateCompositeKeyAttribute(objectType); err != nil {
		return "", fmt.Errorf("object type: %w", err)
	}
	var b strings.Builder
	b.WriteString(compositeKeyNamespace)
	b.WriteString(objectType)
	b.WriteRune(minUnicodeRuneValue)
	for _, attr := range attributes {
		if err := validateCompositeKeyAttribute(attr); err != nil {
			return "", fmt.Errorf("attribute: %w", err)
		}
		b.WriteString(attr)
		b.WriteRune(minUnicodeRuneValue)
	}
	return b.String(), nil
}

// SplitCompositeKey reverses CreateCompositeKey.
func SplitCompositeKey(key string) (string, []string, error) {
	if !strings.HasPrefix(key, compositeKeyNamespace) || !strings.HasSuffix(key, string(rune(minUnicodeRuneValue))) {
		return "", nil, fmt.Errorf("not a composite key: %q", key)
	}
	parts := strings.Split(key[1:len(key)-1], string(rune(minUnicodeRuneValue)))
	return parts[0], parts[1:], nil
}

// IsCompositeKey reports whether key was built by CreateCompositeKey.
func IsCompositeKey(key string) bool {
	return strings.HasPrefix(key, compositeKeyNamespace)
}

// PrefixRange returns the half-open key range [start, end) covering every key with the given prefix.
func PrefixRange(prefix string) (string, string) {
	return prefix, prefix + string(rune(maxUnicodeRuneValue))
}

func validateCompositeKeyAttribute(s string) error {
	if !utf8.ValidString(s) {
		return errors.New("not a valid utf8 string")
	}
	for _, r := range s {
		if r == minUnicodeRuneValue || r == maxUnicodeRuneValue {
			return fmt.Errorf("must not contain U+%04X or U+%04X", minUnicodeRuneValue, maxUnicodeRuneValue)
		}
	}
	return nil
}
