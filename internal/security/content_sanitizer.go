// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentRenderer はユーザーが投稿したプレーンテキストのメッセージ本文を
// 表示用の安全なHTMLに変換する。bluemondayライブラリを使用した
// 許可リストベースのポリシーで、安全なタグと属性のみを通過させる。
package security

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentRenderer はメッセージ本文をHTMLに変換する機能のインターフェースを定義する。
// API応答時に使用され、保存される本文そのものは変更しない。
type ContentRenderer interface {
	// Render はプレーンテキストの本文を安全なHTMLに変換する。
	// HTML特殊文字はエスケープされ、改行は<br>に、http(s)のURLはリンクに変換される。
	// aタグにはtarget="_blank"とrel="nofollow noreferrer noopener"が付与される。
	// 空文字列の入力には空文字列を返す。
	Render(content string) string

	// Sanitize は任意のHTMLを許可リストでサニタイズする。
	Sanitize(rawHTML string) string
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// contentRenderer はContentRendererの実装。
// bluemondayのポリシーを保持し、スレッドセーフに処理を行う。
type contentRenderer struct {
	policy *bluemonday.Policy
}

// NewContentRenderer はContentRendererの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: br, a, strong, em, code
//   - aタグのhref: http / https のみ、外部リンクとして target と rel を付与
//   - それ以外のタグ、on*イベント属性は除去
func NewContentRenderer() *contentRenderer {
	p := bluemonday.NewPolicy()

	p.AllowElements("br", "strong", "em", "code")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentRenderer{policy: p}
}

// Render はプレーンテキストの本文を安全なHTMLに変換する。
func (r *contentRenderer) Render(content string) string {
	if content == "" {
		return ""
	}

	escaped := html.EscapeString(content)
	linked := urlPattern.ReplaceAllStringFunc(escaped, func(raw string) string {
		// 末尾の句読点はURLに含めない
		trimmed := strings.TrimRight(raw, ".,;:!?)")
		rest := raw[len(trimmed):]
		if _, err := url.Parse(html.UnescapeString(trimmed)); err != nil {
			return raw
		}
		return `<a href="` + trimmed + `">` + trimmed + `</a>` + rest
	})
	withBreaks := strings.ReplaceAll(strings.ReplaceAll(linked, "\r\n", "\n"), "\n", "<br>")

	return r.policy.Sanitize(withBreaks)
}

// Sanitize は任意のHTMLを許可リストでサニタイズする。
func (r *contentRenderer) Sanitize(rawHTML string) string {
	return r.policy.Sanitize(rawHTML)
}
