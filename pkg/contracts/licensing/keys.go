package licensing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// License keys are 16 hex characters from 8 random bytes, displayed
// uppercase in four hyphen-separated groups: XXXX-XXXX-XXXX-XXXX.
const keyHexLength = 16

// NewKey mints a fresh license key in display format.
func NewKey() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}
	return FormatKey(hex.EncodeToString(buf[:])), nil
}

// NormalizeKey strips separators and whitespace and uppercases, giving
// the canonical 16-character form used for lookups.
func NormalizeKey(key string) string {
	key = strings.ToUpper(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, " ", "")
	return key
}

// ValidateKeyFormat checks that a key, in any accepted spelling, is 16
// hex characters.
func ValidateKeyFormat(key string) error {
	clean := NormalizeKey(key)
	if len(clean) != keyHexLength {
		return fmt.Errorf("license key must be %d characters (got %d)", keyHexLength, len(clean))
	}
	for _, c := range clean {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return fmt.Errorf("license key must contain only hexadecimal characters")
		}
	}
	return nil
}

// FormatKey renders a key in display format. Keys of unexpected length
// are returned normalized but ungrouped.
func FormatKey(key string) string {
	clean := NormalizeKey(key)
	if len(clean) != keyHexLength {
		return clean
	}
	return fmt.Sprintf("%s-%s-%s-%s", clean[0:4], clean[4:8], clean[8:12], clean[12:16])
}
