// Package middleware содержит HTTP middleware административного API сервиса проверки платежей.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// AdminAuth пропускает запросы только с токеном администратора в заголовке Authorization.
type AdminAuth struct {
	digest []byte
}

// NewAdminAuth создаёт проверку по токену. Пустой токен запрещает доступ всем.
func NewAdminAuth(token string) *AdminAuth {
	if token == "" {
		return &AdminAuth{}
	}
	return &AdminAuth{digest: tokenDigest(token)}
}

// Middleware отвечает 401, если токен отсутствует или не совпадает.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) authorized(r *http.Request) bool {
	if a.digest == nil {
		return false
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return false
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return false
	}

	// Сравниваем дайджесты фиксированной длины, чтобы время не зависело от длины токена.
	return hmac.Equal(tokenDigest(token), a.digest)
}

func tokenDigest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}
