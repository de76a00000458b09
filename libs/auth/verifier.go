package auth

import (
	"context"
	"net/http"
	"strings"
)

// Verifier accepts HS256 tokens when a secret is configured and RS256 tokens
// when a JWKS client is configured.
type Verifier struct {
	secret string
	jwks   *JWKSClient
}

func NewVerifier(secret string, jwks *JWKSClient) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), jwks: jwks}
}

// Enabled reports whether any verification method is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && (v.secret != "" || v.jwks != nil)
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	h, err := parseHeader(token)
	if err != nil {
		return nil, err
	}
	switch h.Alg {
	case "HS256":
		if v.secret == "" {
			return nil, ErrInvalidToken
		}
		return VerifyHS256(token, v.secret)
	case "RS256":
		if v.jwks == nil || h.Kid == "" {
			return nil, ErrInvalidToken
		}
		key, err := v.jwks.Get(ctx, h.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return VerifyRS256(token, key)
	default:
		return nil, ErrInvalidToken
	}
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(raw[7:])
}

type ctxKey struct{}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}
