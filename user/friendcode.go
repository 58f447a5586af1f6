package user

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// FriendCodePrefix is the fixed prefix of every friend code.
const FriendCodePrefix = "PI"

var friendCodePattern = regexp.MustCompile(`^PI-\d{4}-\d{4}-\d{4}$`)

// GenerateFriendCode returns a random code of the form PI-dddd-dddd-dddd.
func GenerateFriendCode() (string, error) {
	groups := make([]string, 3)
	limit := big.NewInt(10000)
	for i := range groups {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("user: generate friend code: %w", err)
		}
		groups[i] = fmt.Sprintf("%04d", n.Int64())
	}
	return FriendCodePrefix + "-" + strings.Join(groups, "-"), nil
}

// NormalizeFriendCode trims and upper-cases user input so "pi-1234-..." and
// " PI-1234-... " resolve to the same code.
func NormalizeFriendCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidFriendCode reports whether code (already normalized) is well formed.
func ValidFriendCode(code string) bool {
	return friendCodePattern.MatchString(code)
}
