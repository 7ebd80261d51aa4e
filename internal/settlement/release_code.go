package settlement

import (
	"crypto/rand"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const releaseCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// releaseCodeGroups is the group layout XXX-XXXXXXX-XXXXXX.
var releaseCodeGroups = []int{3, 7, 6}

// GenerateReleaseCode returns a fresh release code drawn from crypto/rand.
func GenerateReleaseCode() (string, error) {
	size := big.NewInt(int64(len(releaseCodeAlphabet)))
	groups := make([]string, 0, len(releaseCodeGroups))
	for _, n := range releaseCodeGroups {
		var b strings.Builder
		for i := 0; i < n; i++ {
			idx, err := rand.Int(rand.Reader, size)
			if err != nil {
				return "", err
			}
			b.WriteByte(releaseCodeAlphabet[idx.Int64()])
		}
		groups = append(groups, b.String())
	}
	return strings.Join(groups, "-"), nil
}

func hashReleaseCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func releaseCodeMatches(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
