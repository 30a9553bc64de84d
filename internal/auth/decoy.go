package auth

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/google/uuid"
)

// decoyLabel はダミーID導出鍵のドメイン分離ラベル。
const decoyLabel = "dealhub/decoy-uid/v1"

// decoyUserID は未登録メールアドレスに対して返すダミーのユーザーIDを導出する。
// 同じメールアドレスには常に同じ値を返し、形式は実在ユーザーのID（UUIDv4）と区別できない。
func decoyUserID(key []byte, normalizedEmail string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(decoyLabel))
	mac.Write([]byte{0})
	mac.Write([]byte(normalizedEmail))
	sum := mac.Sum(nil)

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id.String()
}

// DeriveDecoyKey はサーバー秘密鍵からダミーID導出鍵を導出する。
// 秘密鍵をHMAC鍵とし、固定ラベルに対するMACを導出鍵とする。
func DeriveDecoyKey(serverSecret string) []byte {
	mac := hmac.New(sha256.New, []byte(serverSecret))
	mac.Write([]byte("dealhub/decoy-key/v1"))
	return mac.Sum(nil)
}
