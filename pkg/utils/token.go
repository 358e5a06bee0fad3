package utils

import (
	"crypto/rand"
	"math/big"
)

// InvitationCodeAlphabet is the character set of invitation codes
const InvitationCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateInvitationCode returns n characters drawn uniformly from
// InvitationCodeAlphabet using crypto/rand.
func GenerateInvitationCode(n int) (string, error) {
	if n <= 0 {
		n = 8
	}
	alphabetLen := big.NewInt(int64(len(InvitationCodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = InvitationCodeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
