package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/handshake"
	"github.com/golang-jwt/jwt/v5"
)

// NewAuthMiddleware validates the connection handshake before the websocket
// upgrade runs. The primary credential is the signed handshake token carried
// in the query string (or headers); a legacy session-token JWT cookie is
// accepted as a fallback and yields an unverified identity that the session
// layer restricts to the global room.
//
// Every rejection answers a generic "Unauthorized" while the specific
// reason only goes to the log, so callers cannot probe the check order.
func NewAuthMiddleware(logger *slog.Logger, handshakeSecret, legacySessionSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			userID := firstOf(r.URL.Query().Get("userId"), r.Header.Get("X-User-Id"))
			userName := firstOf(r.URL.Query().Get("userName"), r.Header.Get("X-User-Name"))
			token := firstOf(r.URL.Query().Get("token"), r.Header.Get("X-Handshake-Token"))

			if userID == "" {
				if legacyUserID, ok := legacySessionUser(r, legacySessionSecret); ok {
					logger.Warn("Admitting connection via legacy session cookie",
						slog.String("ip", reqMeta.IP),
						slog.String("userID", legacyUserID),
					)
					reqMeta.UserID = legacyUserID
					reqMeta.Verified = false
					next.ServeHTTP(w, r)
					return
				}
				logger.Warn("Connection rejected",
					slog.String("ip", reqMeta.IP),
					slog.String("reason", string(handshake.ReasonMissingUserID)),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			res := handshake.Verify(token, userID, handshakeSecret, time.Now())
			if !res.Valid {
				logger.Warn("Connection rejected",
					slog.String("ip", reqMeta.IP),
					slog.String("userID", userID),
					slog.String("reason", string(res.Reason)),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = userID
			reqMeta.UserName = userName
			reqMeta.Verified = true
			next.ServeHTTP(w, r)
		})
	}
}

// legacySessionUser extracts the subject of a valid session-token JWT
// cookie. Disabled when no legacy secret is configured.
func legacySessionUser(r *http.Request, secret string) (string, bool) {
	if secret == "" {
		return "", false
	}
	cookie, err := r.Cookie("session-token")
	if err != nil || cookie.Value == "" {
		return "", false
	}

	token, err := jwt.Parse(cookie.Value, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
