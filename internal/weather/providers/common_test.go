package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOfCarriesCodeThroughWrapping(t *testing.T) {
	err := &statusError{code: http.StatusForbidden}
	assert.Equal(t, http.StatusForbidden, statusOf(err))
	assert.Equal(t, http.StatusForbidden, statusOf(fmt.Errorf("alerts fetch: %w", err)))

	assert.Zero(t, statusOf(nil))
	assert.Zero(t, statusOf(fmt.Errorf("some other failure")))
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	rc := newResilientClient(srv.Client(), "test")

	// Well past the consecutive-failure threshold; every call must still reach
	// the server and come back as a plain status error, never a tripped
	// breaker.
	for i := 0; i < 10; i++ {
		_, err := rc.do(context.Background(), func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, srv.URL, nil)
		})
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, statusOf(err), "call %d", i)
	}
	assert.Equal(t, 10, hits)
}
