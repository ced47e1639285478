package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "payguard/pkg/domain"
	"payguard/pkg/requestcontext"
)

// AdminValidator validates a bearer token and returns the administrator
// identity it carries. Authentication itself (passwords, second factor,
// token issuance) lives in the auth collaborator; this only verifies what
// it issued.
type AdminValidator interface {
	ValidateToken(tokenString string) (id.AdminID, error)
}

// JWTValidator validates HS256 tokens signed by the auth collaborator.
type JWTValidator struct {
	signingKey []byte
}

func NewJWTValidator(signingKey string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey)}
}

// ValidateToken parses the token and returns the subject as the admin
// identity.
func (v *JWTValidator) ValidateToken(tokenString string) (id.AdminID, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return id.AdminID(subject), nil
}

// RequireAdmin rejects requests without a valid admin bearer token and
// stores the admin identity and source IP in the request context for audit
// capture downstream.
func RequireAdmin(validator AdminValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			admin, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"error", err.Error(),
				)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			ctx = requestcontext.WithAdminID(ctx, admin)
			ctx = requestcontext.WithClientIP(ctx, clientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
