package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes はbcryptが扱える入力の最大バイト数。
const MaxSecretBytes = 72

// ErrSecretTooLong はハッシュ対象がbcryptの上限を超える場合に返す。
var ErrSecretTooLong = errors.New("secret exceeds 72 bytes")

// Hasher は低速なソルト付き一方向ハッシュのインターフェース。
// パスワードとワンタイムコードの両方に使用する。
type Hasher interface {
	// Hash は平文をハッシュ化する。
	Hash(plain string) (string, error)
	// Compare はハッシュと平文が一致するかを定数時間で比較する。
	// 不一致・ハッシュ破損などあらゆる失敗でfalseを返す。
	Compare(hash, plain string) bool
}

// BcryptHasher はbcryptによるHasherの実装。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はコストを指定してBcryptHasherを生成する。
// コストがbcryptの許容範囲外の場合はエラーを返す。
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Cost は設定されたコストを返す。
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash は平文をbcryptでハッシュ化する。
func (h *BcryptHasher) Hash(plain string) (string, error) {
	if len(plain) > MaxSecretBytes {
		return "", ErrSecretTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(b), nil
}

// Compare はbcryptハッシュと平文を比較する。
func (h *BcryptHasher) Compare(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// compile-time interface check
var _ Hasher = (*BcryptHasher)(nil)
