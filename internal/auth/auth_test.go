package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIssuedToken(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue("u1", "Alice", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "Alice", id.DisplayName())
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret")

	expired, err := v.Issue("u1", "", -time.Minute)
	require.NoError(t, err)

	foreign, err := NewVerifier("other").Issue("u1", "", time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not.a.token",
		"expired":    expired,
		"wrong key":  foreign,
		"no subject": noSubject,
		"alg none":   unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestDisplayNameFallsBackToUserID(t *testing.T) {
	assert.Equal(t, "u1", Identity{UserID: "u1"}.DisplayName())
}

func TestCSRF(t *testing.T) {
	c := NewCSRF("secret")
	token := c.Token("u1")

	assert.True(t, c.Valid("u1", token))
	assert.False(t, c.Valid("u2", token))
	assert.False(t, c.Valid("u1", ""))
	assert.False(t, NewCSRF("other").Valid("u1", token))
	assert.Equal(t, token, c.Token("u1"))
}

func newTestRouter(v *Verifier, csrf *CSRF, allowQuery bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(v, allowQuery))
	r.GET("/who", func(c *gin.Context) {
		id, _ := FromContext(c)
		c.String(http.StatusOK, id.UserID)
	})
	r.POST("/act", RequireCSRF(csrf), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	csrf := NewCSRF("secret")
	token, err := v.Issue("u1", "", time.Hour)
	require.NoError(t, err)

	r := newTestRouter(v, csrf, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())

	// Query tokens are refused unless allowed.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	newTestRouter(v, csrf, true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireCSRF(t *testing.T) {
	v := NewVerifier("secret")
	csrf := NewCSRF("csrf-secret")
	token, err := v.Issue("u1", "", time.Hour)
	require.NoError(t, err)
	r := newTestRouter(v, csrf, false)

	req := httptest.NewRequest(http.MethodPost, "/act", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/act", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(CSRFHeader, csrf.Token("u1"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
