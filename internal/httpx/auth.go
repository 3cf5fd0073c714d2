package httpx

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleConsumer = "consumer"
	RoleFarmer   = "farmer"
	RoleAdmin    = "admin"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the verified caller. ID is the consumer, farmer or admin id.
type Principal struct {
	ID   string
	Role string
}

type principalKey struct{}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AuthMiddleware accepts HS256 bearer tokens whose subject is the caller id.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := parseBearer(r.Header.Get("Authorization"), secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Kind: "Unauthorized", Message: err.Error()})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || !slices.Contains(roles, p.Role) {
				writeJSON(w, http.StatusForbidden, errorBody{Kind: "Forbidden", Message: "role not allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearer(header string, secret []byte) (Principal, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return Principal{}, errors.New("missing bearer token")
	}
	var c Claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" || c.Role == "" {
		return Principal{}, errors.New("token lacks subject or role")
	}
	return Principal{ID: c.Subject, Role: c.Role}, nil
}

// IssueToken signs a token for subject; used by local tooling and tests.
func IssueToken(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}
