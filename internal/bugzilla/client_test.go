package bugzilla

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/pulsebot/internal/lookup"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(DefaultConfig(srv.URL), nil)
}

// TestComponent verifies the "product :: component" key format.
func TestComponent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bug/1234567", r.URL.Path)

		fmt.Fprint(w, `{"bugs": [
			{"product": "Firefox", "component": "General"}
		]}`)
	})

	component, err := client.Component(context.Background(), "1234567")
	require.NoError(t, err)
	require.Equal(t, "Firefox :: General", component)
}

// TestComponentEmptyResponse verifies an empty bugs array is an error
// rather than a bogus empty key.
func TestComponentEmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"bugs": []}`)
	})

	_, err := client.Component(context.Background(), "9")
	require.Error(t, err)
}

// TestComponentScopedCaching verifies duplicate bug ids within one scope
// cost one round trip.
func TestComponentScopedCaching(t *testing.T) {
	var hits atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"bugs": [{"product": "Core", "component": "DOM"}]}`)
	})

	ctx := lookup.WithScope(context.Background())
	_, err := client.Component(ctx, "55")
	require.NoError(t, err)
	_, err = client.Component(ctx, "55")
	require.NoError(t, err)

	require.Equal(t, int64(1), hits.Load())
}
