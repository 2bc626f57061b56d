// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力した表示名をプレーンテキストに正規化する。
// bluemondayのStrictPolicyでタグをすべて除去し、script/style要素は内容ごと取り除く。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength は表示名の最大文字数。profiles.full_nameの列長と一致させる。
const MaxDisplayNameLength = 255

// TextSanitizerService は表示名のサニタイズ機能のインターフェースを定義する。
type TextSanitizerService interface {
	// SanitizeText はHTMLタグを除去し、連続する空白を1つにまとめ、前後の空白を取り除く。
	// 結果はMaxDisplayNameLength文字以内に切り詰められる。
	SanitizeText(s string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなため、1つのインスタンスを共有する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText は表示名をプレーンテキストに正規化する。
func (s *textSanitizer) SanitizeText(in string) string {
	if in == "" {
		return ""
	}

	// StrictPolicyは&などをエンティティに変換するため、保存前に元の文字に戻す
	text := html.UnescapeString(s.policy.Sanitize(in))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > MaxDisplayNameLength {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
	}
	return text
}
