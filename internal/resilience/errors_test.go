package resilience

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient_ExplicitWrap(t *testing.T) {
	err := NewTransientError(eris.New("503 from service"), 503)
	assert.True(t, IsTransient(err))

	wrapped := eris.Wrap(err, "classify call")
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransient_PermanentWins(t *testing.T) {
	err := NewPermanentError(eris.New("422 unprocessable"), 422)
	assert.False(t, IsTransient(err))
	assert.True(t, IsPermanent(err))
	assert.True(t, IsPermanent(eris.Wrap(err, "extract call")))
}

func TestIsTransient_NilAndPlain(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(eris.New("parse failure")))
}

func TestIsTransient_NetworkPatterns(t *testing.T) {
	assert.True(t, IsTransient(eris.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(eris.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(eris.New("lookup api: no such host")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}
