package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は利用者や外部連携から受け取った表示名をプレーンテキストに正規化する。
// 顧客名、エージェント名、連携の表示名の保存前に使用する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、連続する空白を1つにまとめて前後の空白を取り除く。
	// 結果がmaxRunes文字を超える場合は切り詰める。maxRunesが0以下の場合は切り詰めない。
	Sanitize(raw string, maxRunes int) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はプレーンテキストを返す。戻り値はHTMLエスケープされていない。
func (s *textSanitizer) Sanitize(raw string, maxRunes int) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはテキストをエスケープして返すため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return text
}

var _ TextSanitizer = (*textSanitizer)(nil)
