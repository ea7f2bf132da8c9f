package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwt"
	"github.com/clerk/clerk-sdk-go/v2/user"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	UserContextKey contextKey = "user"

	// AnonCookieName is the cookie used to track anonymous users per-device
	AnonCookieName = "__shorts_anon"

	// AnonIDPrefix is prepended to anonymous user IDs
	AnonIDPrefix = "anon:"

	// AnonCookieMaxAge is the max-age of the anonymous cookie (30 days)
	AnonCookieMaxAge = 30 * 24 * 60 * 60
)

// User is the caller a job belongs to.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// IsAnonymous returns true if the user is an anonymous (not logged in) user
func (u *User) IsAnonymous() bool {
	if u == nil {
		return true
	}
	return strings.HasPrefix(u.ID, AnonIDPrefix)
}

// Auth identifies callers. With a Clerk secret configured, bearer tokens are
// verified; every other caller gets a per-device anonymous identity.
type Auth struct {
	enabled bool
	secure  bool
	logger  *zap.Logger
}

// NewAuth creates the auth middleware. An empty secretKey disables bearer
// verification. secure marks the anonymous cookie for HTTPS deployments.
func NewAuth(secretKey string, secure bool, logger *zap.Logger) *Auth {
	if secretKey != "" {
		clerk.SetKey(secretKey)
	}
	return &Auth{
		enabled: secretKey != "",
		secure:  secure,
		logger:  logger,
	}
}

// anonID reads the anonymous cookie or issues a new one.
func (a *Auth) anonID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(AnonCookieName); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			return AnonIDPrefix + cookie.Value
		}
	}

	id := uuid.New().String()
	sameSite := http.SameSiteLaxMode
	if a.secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   AnonCookieMaxAge,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: sameSite,
	})
	return AnonIDPrefix + id
}

// Handler returns the HTTP middleware handler
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !a.enabled || authHeader == "" {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &User{ID: a.anonID(w, r)})))
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			WriteError(w, http.StatusUnauthorized, "invalid authorization header", "auth")
			return
		}

		claims, err := jwt.Verify(r.Context(), &jwt.VerifyParams{Token: token})
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "invalid or expired token", "auth")
			return
		}

		u := &User{ID: claims.Subject}
		if clerkUser, err := user.Get(r.Context(), claims.Subject); err != nil {
			a.logger.Debug("Clerk user lookup failed, using token claims", zap.String("user_id", claims.Subject), zap.Error(err))
		} else {
			u.FirstName = safeString(clerkUser.FirstName)
			u.LastName = safeString(clerkUser.LastName)
			for _, addr := range clerkUser.EmailAddresses {
				if clerkUser.PrimaryEmailAddressID != nil && addr.ID == *clerkUser.PrimaryEmailAddressID {
					u.Email = addr.EmailAddress
					break
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, UserContextKey, u)
}

// GetUser retrieves the user from context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// UserID returns the caller's ID, or "" when no auth middleware ran.
func UserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return ""
}

// safeString safely dereferences a string pointer
func safeString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
