package provision

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Password policy: every generated password reaches targetLength and
// carries at least perClassMin characters from each of the four classes.
const (
	targetLength   = 24
	minLength      = 16
	perClassMin    = 3
	maxGenAttempts = 2
)

const (
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*()-_=+"
)

// PasswordPolicyError means a generated password failed validation even
// after regeneration.
type PasswordPolicyError struct {
	Reason string
}

func (e *PasswordPolicyError) Error() string {
	return fmt.Sprintf("password policy violation: %s", e.Reason)
}

// GeneratePassword produces a root password satisfying the policy. A
// failing candidate triggers exactly one regeneration before the error
// escalates.
func GeneratePassword() (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxGenAttempts; attempt++ {
		candidate, err := generateCandidate()
		if err != nil {
			return "", err
		}
		if lastErr = validatePassword(candidate); lastErr == nil {
			return candidate, nil
		}
	}
	return "", &PasswordPolicyError{Reason: lastErr.Error()}
}

// generateCandidate assembles the per-class minimums, tops up with a
// cryptographically-sourced suffix from the full alphabet, and shuffles
// so class positions are not predictable.
func generateCandidate() (string, error) {
	all := upperChars + lowerChars + digitChars + symbolChars

	var chars []byte
	for _, class := range []string{upperChars, lowerChars, digitChars, symbolChars} {
		for i := 0; i < perClassMin; i++ {
			c, err := randByte(class)
			if err != nil {
				return "", err
			}
			chars = append(chars, c)
		}
	}
	for len(chars) < targetLength {
		c, err := randByte(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Fisher-Yates with crypto-sourced indices.
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}

	return string(chars), nil
}

// validatePassword enforces the minimum length and one-per-class rule.
func validatePassword(s string) error {
	if len(s) < minLength {
		return fmt.Errorf("length %d below minimum %d", len(s), minLength)
	}

	counts := map[string]int{}
	for i := 0; i < len(s); i++ {
		switch {
		case contains(upperChars, s[i]):
			counts["upper"]++
		case contains(lowerChars, s[i]):
			counts["lower"]++
		case contains(digitChars, s[i]):
			counts["digit"]++
		case contains(symbolChars, s[i]):
			counts["symbol"]++
		}
	}

	for _, class := range []string{"upper", "lower", "digit", "symbol"} {
		if counts[class] == 0 {
			return fmt.Errorf("missing %s character", class)
		}
	}
	return nil
}

func contains(set string, c byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == c {
			return true
		}
	}
	return false
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return int(v.Int64()), nil
}

func randByte(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}
