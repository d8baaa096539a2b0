package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/adapters/signal"
	"github.com/skillshare/realtime/internal/domain"
)

const (
	sessionUserKey   = "uid"
	sessionExpiryKey = "exp"
	// sessions minted from tokens without exp live this long
	maxSessionTTL = time.Hour
)

// Claims are issued by the account service; only the subject is read here.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer}, nil
}

// Parse validates token and returns the user id carried in its subject and
// the token expiry, zero when the token has none.
func (a *Authenticator) Parse(token string) (domain.UserID, time.Time, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", time.Time{}, errors.New("invalid token claims")
	}
	user, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return "", time.Time{}, err
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return user, exp, nil
}

// sessionUser returns the user remembered by the session while the token it
// was minted from is still valid.
func sessionUser(session sessions.Session, now time.Time) (domain.UserID, bool) {
	uid, ok := session.Get(sessionUserKey).(string)
	if !ok || uid == "" {
		return "", false
	}
	exp, ok := session.Get(sessionExpiryKey).(int64)
	if !ok || !now.Before(time.Unix(exp, 0)) {
		return "", false
	}
	return domain.UserID(uid), true
}

func rememberUser(session sessions.Session, user domain.UserID, exp time.Time) error {
	limit := time.Now().Add(maxSessionTTL)
	if exp.IsZero() || exp.After(limit) {
		exp = limit
	}
	session.Set(sessionUserKey, string(user))
	session.Set(sessionExpiryKey, exp.Unix())
	return session.Save()
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// browsers cannot set headers on a websocket handshake
	return c.Query("access_token")
}

// AuthMiddleware resolves the caller and stores it under signal.UserKey.
// Sources in order: bearer token, the cookie session left by an earlier
// token (only with token auth configured, and never past the token expiry),
// then ?userId= when allowQuery is set. A request without any passes through
// unauthenticated; RequireUser rejects it where needed.
func AuthMiddleware(auth *Authenticator, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		if tok := bearerToken(c); tok != "" && auth != nil {
			user, exp, err := auth.Parse(tok)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString(requestIDKey)).Msg("bad bearer token")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			if err := rememberUser(session, user, exp); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
			c.Set(signal.UserKey, string(user))
			c.Next()
			return
		}

		if auth != nil {
			if user, ok := sessionUser(session, time.Now()); ok {
				c.Set(signal.UserKey, string(user))
				c.Next()
				return
			}
		}

		if allowQuery {
			if user, err := domain.ParseUserID(c.Query("userId")); err == nil {
				c.Set(signal.UserKey, string(user))
			}
		}
		c.Next()
	}
}

func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(signal.UserKey) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(signal.UserKey))
}
