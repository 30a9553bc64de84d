// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer は利用者が入力する表示名からマークアップを除去する。
// 表示名はメール本文やフロントエンドに埋め込まれるため、
// bluemondayのStrictPolicyで全タグを落としたプレーンテキストとして保存する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// Sanitize は表示名から全タグを除去し、前後の空白と制御文字を取り除いた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名をサニタイズする。
// StrictPolicyはエンティティをエスケープして返すため、保存前にプレーンテキストへ戻す。
// 表示側（html/template等）で改めてエスケープされる。
func (s *nameSanitizer) Sanitize(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimSpace(cleaned)
}
