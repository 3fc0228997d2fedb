package middleware

import "net/http"

// hstsValue は1年間のHTTPS強制を指示する。
const hstsValue = "max-age=31536000; includeSubDomains"

// NewSecurityHeadersMiddleware はJSON APIのレスポンス向けセキュリティヘッダーを付与するミドルウェアを返す。
// APIはHTML・スクリプトを返さないため、CSPは全て拒否とする。
// セッション依存の応答をキャッシュさせないよう既定でCache-Control: no-storeを付け、ハンドラー側で上書きできる。
// strictTransportがtrueの場合（HTTPS運用時）はStrict-Transport-Securityも付与する。
func NewSecurityHeadersMiddleware(strictTransport bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			if strictTransport {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
