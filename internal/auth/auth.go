package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey string

const actorKey contextKey = "actor"

// Claims carry the caller identity. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Resolver turns HMAC signed bearer tokens into actors.
type Resolver struct {
	secret []byte
	issuer string
}

func NewResolver(secret, issuer string) *Resolver {
	return &Resolver{secret: []byte(secret), issuer: issuer}
}

// Resolve reads the bearer token of r. The system role is never accepted
// from outside the process.
func (res *Resolver) Resolve(r *http.Request) (appointment.Actor, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return appointment.Actor{}, ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return appointment.Actor{}, ErrInvalidToken
	}
	return res.Parse(parts[1])
}

func (res *Resolver) Parse(tokenString string) (appointment.Actor, error) {
	if len(res.secret) == 0 {
		return appointment.Actor{}, fmt.Errorf("%w: signing secret not configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if res.issuer != "" {
		opts = append(opts, jwt.WithIssuer(res.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return res.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return appointment.Actor{}, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}
	role := appointment.Role(strings.ToUpper(claims.Role))
	if !role.Valid() || role == appointment.RoleSystem {
		return appointment.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return appointment.Actor{ID: id, Role: role}, nil
}

// Issue signs a token for actor. Used by tooling and tests.
func (res *Resolver) Issue(actor appointment.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    res.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(actor.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(res.secret)
}

func WithActor(ctx context.Context, actor appointment.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (appointment.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(appointment.Actor)
	return actor, ok
}
