package otp

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// コード空間。先頭ゼロを含まない5桁の数字。
const (
	codeMin   = 10000
	codeRange = 90000
)

// CodeLength は発行するコードの桁数。
const CodeLength = 5

// generateCode はrandから一様に選んだ5桁のコードを返す。
func generateCode(random io.Reader) (string, error) {
	n, err := rand.Int(random, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to draw random code: %w", err)
	}
	return fmt.Sprintf("%d", codeMin+n.Int64()), nil
}

// IsWellFormed はcandidateが発行され得る形式（5桁の数字）かどうかを返す。
func IsWellFormed(candidate string) bool {
	if len(candidate) != CodeLength {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if candidate[i] < '0' || candidate[i] > '9' {
			return false
		}
	}
	return true
}
