package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// TestSanitizeText は表示名のサニタイズ結果を検証する。
func TestSanitizeText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "空文字列はそのまま", input: "", want: ""},
		{name: "プレーンテキストは変更されない", input: "Jane Doe", want: "Jane Doe"},
		{name: "日本語の表示名", input: "山田 太郎", want: "山田 太郎"},
		{name: "タグは除去される", input: "<b>Bob</b>", want: "Bob"},
		{name: "scriptは内容ごと除去される", input: "<script>alert(1)</script>Alice", want: "Alice"},
		{name: "イベント属性付きの要素も除去される", input: `<img src=x onerror="alert(1)">Carol`, want: "Carol"},
		{name: "アンパサンドはエスケープされない", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "連続する空白はまとめられる", input: "  Jane \t\n  Doe  ", want: "Jane Doe"},
		{name: "空白のみは空文字列になる", input: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeText(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_TruncatesLongNames は長すぎる表示名が文字数で切り詰められることを検証する。
func TestSanitizeText_TruncatesLongNames(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := strings.Repeat("あ", MaxDisplayNameLength+10)
	got := sanitizer.SanitizeText(input)

	if n := utf8.RuneCountInString(got); n != MaxDisplayNameLength {
		t.Errorf("rune count = %d, want %d", n, MaxDisplayNameLength)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated name is not valid UTF-8")
	}
}

// TestSanitizeText_ConcurrentUse は並行呼び出しで同じ結果を返すことを検証する。
func TestSanitizeText_ConcurrentUse(t *testing.T) {
	sanitizer := NewTextSanitizer()
	done := make(chan string, 10)

	for i := 0; i < 10; i++ {
		go func() {
			done <- sanitizer.SanitizeText("<em>Dana</em>")
		}()
	}
	for i := 0; i < 10; i++ {
		if got := <-done; got != "Dana" {
			t.Errorf("SanitizeText() = %q, want %q", got, "Dana")
		}
	}
}
