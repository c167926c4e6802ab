package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newLimitedEcho(perSecond float64) *echo.Echo {
	e := echo.New()
	e.GET("/api/chats", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RateLimiter(perSecond))
	return e
}

func hit(e *echo.Echo, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	e := newLimitedEcho(5)

	for i := range 5 {
		assert.Equal(t, http.StatusOK, hit(e, "192.0.2.10:4000").Code, "request %d", i+1)
	}
	rec := hit(e, "192.0.2.10:4000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"message":"Too many requests. Please try again later."}`, rec.Body.String())
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	e := newLimitedEcho(1)

	assert.Equal(t, http.StatusOK, hit(e, "192.0.2.20:4000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(e, "192.0.2.20:4001").Code, "same IP, different port")
	assert.Equal(t, http.StatusOK, hit(e, "192.0.2.21:4000").Code)
}

func TestRateLimiter_FractionalRateKeepsBurstOfOne(t *testing.T) {
	e := newLimitedEcho(0.5)

	assert.Equal(t, http.StatusOK, hit(e, "192.0.2.30:4000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(e, "192.0.2.30:4000").Code)
}
