package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evalgo.org/gridstore/internal/config"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(enabled bool) *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			AuthEnabled:   enabled,
			JWTSecret:     "test-secret",
			JWTExpiration: time.Hour,
		},
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService(testConfig(true))

	token, err := svc.GenerateToken("ops", []Role{RoleWriter}, 0)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasRole(RoleWriter))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestTokenErrors(t *testing.T) {
	svc := NewJWTService(testConfig(true))

	_, err := svc.GenerateToken("", []Role{RoleReader}, 0)
	assert.Error(t, err)
	_, err = svc.GenerateToken("ops", nil, 0)
	assert.Error(t, err)

	stale := NewJWTService(&config.Config{Security: config.SecurityConfig{JWTSecret: "test-secret", JWTExpiration: -time.Minute}})
	expired, err := stale.GenerateToken("ops", []Role{RoleReader}, 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other := NewJWTService(&config.Config{Security: config.SecurityConfig{JWTSecret: "other", JWTExpiration: time.Hour}})
	foreign, err := other.GenerateToken("ops", []Role{RoleReader}, 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles() {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("root")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestMiddleware(t *testing.T) {
	cfg := testConfig(true)
	m := NewMiddleware(cfg)
	reader, err := m.Service().GenerateToken("r", []Role{RoleReader}, 0)
	require.NoError(t, err)
	writer, err := m.Service().GenerateToken("w", []Role{RoleWriter}, 0)
	require.NoError(t, err)

	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	tests := []struct {
		name   string
		guard  echo.MiddlewareFunc
		header string
		want   int
	}{
		{"read without token", m.RequireRead, "", http.StatusUnauthorized},
		{"read malformed header", m.RequireRead, "Token abc", http.StatusUnauthorized},
		{"read with bad token", m.RequireRead, "Bearer abc", http.StatusUnauthorized},
		{"read as reader", m.RequireRead, "Bearer " + reader, http.StatusNoContent},
		{"write as reader", m.RequireWrite, "Bearer " + reader, http.StatusForbidden},
		{"write as writer", m.RequireWrite, "Bearer " + writer, http.StatusNoContent},
		{"admin as writer", m.RequireAdmin, "Bearer " + writer, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := tt.guard(ok)(c)
			if tt.want == http.StatusNoContent {
				require.NoError(t, err)
				assert.Equal(t, tt.want, rec.Code)
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.want, he.Code)
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	m := NewMiddleware(testConfig(false))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)

	err := m.RequireAdmin(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareQueryToken(t *testing.T) {
	m := NewMiddleware(testConfig(true))
	reader, err := m.Service().GenerateToken("r", []Role{RoleReader}, 0)
	require.NoError(t, err)

	run := func(upgrade bool) error {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?"+QueryParamToken+"="+reader, nil)
		if upgrade {
			req.Header.Set("Connection", "Upgrade")
			req.Header.Set("Upgrade", "websocket")
		}
		c := e.NewContext(req, httptest.NewRecorder())
		return m.RequireRead(func(c echo.Context) error {
			claims, ok := GetClaims(c)
			require.True(t, ok)
			assert.Equal(t, "r", claims.Subject)
			return nil
		})(c)
	}

	assert.NoError(t, run(true))

	// plain requests must use the header
	var he *echo.HTTPError
	require.ErrorAs(t, run(false), &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}
