package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey       contextKey = "user_id"
	UserRolesKey    contextKey = "user_roles"
	FacilityIDKey   contextKey = "facility_id"
	FacilityNameKey contextKey = "facility_name"
)

// FacilityHeader selects the acting facility under DevAuthMiddleware.
const FacilityHeader = "X-Facility-ID"

// DevFacilityID is the facility assumed in development when none is given.
const DevFacilityID = "dev-facility"

type Claims struct {
	jwt.RegisteredClaims
	FacilityID   string   `json:"facility_id"`
	FacilityName string   `json:"facility_name"`
	Roles        []string `json:"roles"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	// Skipper bypasses authentication for matching requests.
	Skipper func(c echo.Context) bool
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.FacilityID == "" && !hasRole(claims.Roles, RoleSuperAdmin) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no facility")
			}

			setPrincipal(c, Principal{
				UserID:       claims.Subject,
				FacilityID:   claims.FacilityID,
				FacilityName: claims.FacilityName,
				Roles:        claims.Roles,
			})
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// act as a superadmin of the facility named in X-Facility-ID.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			facility := strings.TrimSpace(c.Request().Header.Get(FacilityHeader))
			if facility == "" {
				facility = DevFacilityID
			}
			setPrincipal(c, Principal{
				UserID:       "dev-user",
				FacilityID:   facility,
				FacilityName: facility,
				Roles:        []string{RoleSuperAdmin},
			})
			return next(c)
		}
	}
}

func setPrincipal(c echo.Context, p Principal) {
	c.Set(string(FacilityIDKey), p.FacilityID)
	c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, p.UserID)
	ctx = context.WithValue(ctx, UserRolesKey, p.Roles)
	ctx = context.WithValue(ctx, FacilityIDKey, p.FacilityID)
	ctx = context.WithValue(ctx, FacilityNameKey, p.FacilityName)
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func FacilityIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(FacilityIDKey).(string)
	return id
}
