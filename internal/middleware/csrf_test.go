package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/guildfire/internal/model"
)

func csrfProtected(t *testing.T) (http.Handler, *bool) {
	t.Helper()
	called := false
	h := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	return h, &called
}

func TestCSRFMiddleware_SafeMethodSetsCookie(t *testing.T) {
	handler, called := csrfProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/api/guilds", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !*called {
		t.Fatal("GET should pass through")
	}
	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName && len(c.Value) == 64 && !c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Error("GET should set a readable 64-hex csrf_token cookie")
	}
}

func TestCSRFMiddleware_SafeMethodKeepsExistingCookie(t *testing.T) {
	handler, _ := csrfProtected(t)

	req := httptest.NewRequest(http.MethodGet, "/api/guilds", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Error("existing csrf cookie should not be replaced")
	}
}

func TestCSRFMiddleware_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{"一致するトークン", "tok", "tok", http.StatusOK},
		{"cookieなし", "", "tok", http.StatusForbidden},
		{"ヘッダーなし", "tok", "", http.StatusForbidden},
		{"不一致", "tok", "other", http.StatusForbidden},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"_"+tt.name, func(t *testing.T) {
				handler, called := csrfProtected(t)

				req := httptest.NewRequest(method, "/api/messages/m1", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if tt.wantStatus == http.StatusForbidden {
					if *called {
						t.Error("handler should not be called on CSRF failure")
					}
					if body := decodeErrorBody(t, w); body.Code != model.ErrCodeCSRFInvalid {
						t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFInvalid)
					}
				}
			})
		}
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true})

	t.Run("新規発行", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		cookies := w.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Value != body["token"] || !cookies[0].Secure {
			t.Errorf("cookie %+v should match token %q and be Secure", cookies, body["token"])
		}
	})

	t.Run("既存トークンを返す", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["token"] != "existing-token" {
			t.Errorf("token = %q, want existing-token", body["token"])
		}
	})
}
