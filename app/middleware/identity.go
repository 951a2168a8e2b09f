package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-consultations/app/types"
)

const callerContextKey = "caller"

const (
	RoleClient       = "client"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Caller is the authenticated user behind a request. Authentication itself
// happens upstream; this service only checks the signed token it forwards.
type Caller struct {
	UserID uint64
	Role   string
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Identity struct {
	secret []byte
}

func NewIdentity(secret string) *Identity {
	return &Identity{secret: []byte(secret)}
}

// RequireCaller rejects requests without a valid HS256 bearer token and
// stores the caller on the echo context.
func (m *Identity) RequireCaller() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			header := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderAuthorization))
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "bearer token is required"})
			}

			caller, err := m.Parse(strings.TrimSpace(token))
			if err != nil {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid bearer token"})
			}

			ctx.Set(callerContextKey, caller)
			return next(ctx)
		}
	}
}

func (m *Identity) Parse(tokenStr string) (*Caller, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return nil, ErrInvalidToken
	}
	return &Caller{UserID: userID, Role: strings.ToLower(strings.TrimSpace(claims.Role))}, nil
}

// Issue signs a token for the caller. Used by local tooling and tests.
func (m *Identity) Issue(caller Caller, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(caller.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func CallerFromContext(ctx echo.Context) (*Caller, bool) {
	caller, ok := ctx.Get(callerContextKey).(*Caller)
	return caller, ok && caller != nil
}

// WithCaller stores a caller on the context. Handlers read it back with
// CallerFromContext.
func WithCaller(ctx echo.Context, caller *Caller) {
	ctx.Set(callerContextKey, caller)
}
