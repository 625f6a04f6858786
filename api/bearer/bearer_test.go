package bearer

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorized(t *testing.T) {
	req := func(header string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/peers", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}
	assert.True(t, Authorized(req(""), ""))
	assert.True(t, Authorized(req("Bearer s3cret"), "s3cret"))
	assert.False(t, Authorized(req(""), "s3cret"))
	assert.False(t, Authorized(req("Bearer s3cre"), "s3cret"))
	assert.False(t, Authorized(req("Basic s3cret"), "s3cret"))
	assert.False(t, Authorized(req("s3cret"), "s3cret"))

	rr := httptest.NewRecorder()
	assert.False(t, Require(rr, req("Bearer nope"), "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
