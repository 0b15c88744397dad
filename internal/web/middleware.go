package web

import (
	"net/http"

	"order-messaging-automation/internal/infra/logger"
)

const (
	sessionCookieName = "automation_session"
	sessionMaxAge     = 3600 // 1 час в секундах
)

// authMiddleware проверяет аутентификацию клиента admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Проверяем токен из query параметра (для первичной авторизации)
		token := r.URL.Query().Get("token")
		if token != "" {
			sessionID, valid := s.auth.ValidateToken(token)
			if valid {
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    sessionID,
					Path:     "/",
					MaxAge:   sessionMaxAge,
					HttpOnly: true,
					SameSite: http.SameSiteStrictMode,
				})
				// Токен одноразовый: гасим его сразу после использования.
				s.auth.DeleteCurrentToken()
				next.ServeHTTP(w, r)
				return
			}
			logger.Warn("invalid auth token attempt")
			writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
			return
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if !s.auth.ValidateSession(cookie.Value) {
			logger.Debug("session expired or invalid")
			writeJSONError(w, http.StatusUnauthorized, "session expired")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    cookie.Value,
			Path:     "/",
			MaxAge:   sessionMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware логирует все запросы.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
