package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

func HashString(originalString string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(originalString), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}

func VerifyHashedString(originalString, hashedString string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedString), []byte(originalString))

	return err == nil
}

// hashToken digests a high-entropy refresh token so it can be looked up by
// its unique index. Passwords go through bcrypt instead.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
