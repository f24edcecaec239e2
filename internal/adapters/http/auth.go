package http

import (
	"errors"
	"strings"
	"time"

	"github.com/dkeye/voicestage/internal/app"
	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	ctxUser        = "user"
	sessionGuestID = "guest_sid"
)

var ErrBadToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and checks HS256 identity tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(user domain.UserID) (string, error) {
	now := t.now()
	claims := &Claims{
		UserID: string(user),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenIssuer) Validate(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, errors.Join(ErrBadToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrBadToken
	}
	return claims, nil
}

func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, tok, found := strings.Cut(h, " ")
		if !found || scheme != "Bearer" {
			return ""
		}
		return strings.TrimSpace(tok)
	}
	return strings.TrimSpace(strings.TrimPrefix(c.Query("token"), "Bearer "))
}

// IdentityMiddleware resolves the caller. A token wins; without one a
// guest identity is bound to the browser session when guests are
// allowed. A request with no identity continues anonymously and the
// operations that need one answer AUTH.
func IdentityMiddleware(tokens *TokenIssuer, reg *app.Registry, allowGuests bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" || c.Query("token") != "" {
			raw := bearer(c)
			if raw == "" || tokens == nil {
				fail(c, domain.ErrAuth)
				c.Abort()
				return
			}
			claims, err := tokens.Validate(raw)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("rejected token")
				fail(c, domain.ErrAuth)
				c.Abort()
				return
			}
			uid, err := domain.ParseUserID(claims.UserID)
			if err != nil {
				fail(c, domain.ErrAuth)
				c.Abort()
				return
			}
			c.Set(ctxUser, uid)
			c.Next()
			return
		}

		if allowGuests && reg != nil {
			s := sessions.Default(c)
			sid, _ := s.Get(sessionGuestID).(string)
			if sid == "" {
				sid = c.GetString("client_token")
				s.Set(sessionGuestID, sid)
				if err := s.Save(); err != nil {
					log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
				}
			}
			if sid != "" {
				c.Set(ctxUser, reg.GetOrCreateUser(core.SessionID(sid)).ID)
			}
		}
		c.Next()
	}
}

func caller(c *gin.Context) domain.UserID {
	v, _ := c.Get(ctxUser)
	uid, _ := v.(domain.UserID)
	return uid
}
