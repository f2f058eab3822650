package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID   string
	Username string
}

// Session is the outcome of resolving a request: either Authenticated or
// Unauthenticated. Nothing else implements it.
type Session interface {
	session()
}

type Authenticated struct {
	Identity Identity
}

type Unauthenticated struct {
	Reason string
}

func (Authenticated) session()   {}
func (Unauthenticated) session() {}

// Resolver turns an incoming request into a Session.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) Session
}

const (
	TokenCookie        = "token"
	RefreshTokenCookie = "refresh_token"
	tokenQueryParam    = "token"
)

// JWTResolver reads an access token from the token cookie, a Bearer
// Authorization header or the token query parameter, in that order. The
// query parameter exists for browser WebSocket handshakes, which cannot
// set headers.
type JWTResolver struct {
	issuer *TokenIssuer
}

func NewJWTResolver(issuer *TokenIssuer) *JWTResolver {
	return &JWTResolver{issuer: issuer}
}

func (jr *JWTResolver) Resolve(ctx context.Context, r *http.Request) Session {
	if err := ctx.Err(); err != nil {
		return Unauthenticated{Reason: err.Error()}
	}
	token := tokenFromRequest(r)
	if token == "" {
		return Unauthenticated{Reason: "Token is missing"}
	}
	claims, err := jr.issuer.Validate(token)
	if err != nil {
		return Unauthenticated{Reason: "Invalid token"}
	}
	return Authenticated{Identity: Identity{UserID: claims.UserID, Username: claims.Username}}
}

func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(tokenQueryParam)
}
