package ledgerd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stakeledger/observability/logging"
)

type contextKey string

const (
	contextKeyCaller contextKey = "ledgerd.caller"
	contextKeyScopes contextKey = "ledgerd.scopes"
)

// Authenticator validates HMAC signed bearer tokens and exposes the subject
// as the caller identity.
type Authenticator struct {
	secret     []byte
	issuer     string
	audience   string
	adminScope string
	skew       time.Duration
	logger     *slog.Logger
}

// NewAuthenticator constructs an authenticator from cfg.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	skew := cfg.ClockSkew.Duration
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	scope := strings.TrimSpace(cfg.AdminScope)
	if scope == "" {
		scope = "ledger.admin"
	}
	return &Authenticator{
		secret:     []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		adminScope: scope,
		skew:       skew,
		logger:     logger,
	}
}

// AdminScope returns the scope required by admin routes.
func (a *Authenticator) AdminScope() string { return a.adminScope }

// Middleware rejects requests without a valid token carrying requiredScopes.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString := parseBearerToken(header)
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := a.parseToken(tokenString)
			if err == nil {
				err = validateClaims(claims, a.issuer, a.audience)
			}
			if err != nil {
				a.logger.Warn("auth: token rejected",
					slog.Any("error", err),
					slog.String("authorization", logging.MaskAuthorization(header)))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			subject, _ := claims.GetSubject()
			subject = strings.TrimSpace(subject)
			if subject == "" {
				writeError(w, http.StatusUnauthorized, "token subject required")
				return
			}
			scopes := extractScopes(claims)
			if len(requiredScopes) > 0 && !hasScopes(scopes, requiredScopes) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyCaller, subject)
			ctx = context.WithValue(ctx, contextKeyScopes, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.skew), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return err
		}
		matched := false
		for _, entry := range aud {
			if entry == audience {
				matched = true
				break
			}
		}
		if !matched {
			return errors.New("audience mismatch")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims) []string {
	switch val := claims["scope"].(type) {
	case string:
		return strings.Fields(val)
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, entry := range val {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasScopes(have, required []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, scope := range have {
		set[scope] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := set[scope]; !ok {
			return false
		}
	}
	return true
}

func parseBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireScopes rejects authenticated requests missing any of scopes.
func RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			have, _ := r.Context().Value(contextKeyScopes).([]string)
			if !hasScopes(have, scopes) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFromContext returns the authenticated subject.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(contextKeyCaller).(string)
	return caller
}

// MintToken signs a token for subject carrying scopes. It backs the operator
// CLI and tests.
func MintToken(secret, issuer, audience, subject string, scopes []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret required")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
