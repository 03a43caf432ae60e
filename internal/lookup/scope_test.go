package lookup

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMemoizeSingleFetchPerScope verifies that repeated calls with the same
// key inside one scope hit upstream exactly once.
func TestMemoizeSingleFetchPerScope(t *testing.T) {
	ctx := WithScope(context.Background())

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return fmt.Sprintf("result-%d", calls), nil
	}

	first, err := Memoize(ctx, "request/42", fetch)
	require.NoError(t, err)
	require.Equal(t, "result-1", first)

	second, err := Memoize(ctx, "request/42", fetch)
	require.NoError(t, err)
	require.Equal(t, "result-1", second)

	require.Equal(t, 1, calls)

	// A different key fetches again.
	_, err = Memoize(ctx, "request/43", fetch)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

// TestMemoizeFreshScopeRefetches verifies that a second, unrelated
// invocation does not observe the first invocation's results.
func TestMemoizeFreshScopeRefetches(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	ctx1 := WithScope(context.Background())
	v1, err := Memoize(ctx1, "request/7", fetch)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	ctx2 := WithScope(context.Background())
	v2, err := Memoize(ctx2, "request/7", fetch)
	require.NoError(t, err)
	require.Equal(t, 2, v2)

	s1, ok := FromContext(ctx1)
	require.True(t, ok)
	s2, ok := FromContext(ctx2)
	require.True(t, ok)
	require.NotEqual(t, s1.ID(), s2.ID())
}

// TestMemoizeWithoutScope verifies that a context without a scope simply
// bypasses caching.
func TestMemoizeWithoutScope(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	ctx := context.Background()
	_, err := Memoize(ctx, "k", fetch)
	require.NoError(t, err)
	_, err = Memoize(ctx, "k", fetch)
	require.NoError(t, err)

	require.Equal(t, 2, calls)
}

// TestMemoizeCachesErrors verifies that a failed fetch is not retried
// within the same scope.
func TestMemoizeCachesErrors(t *testing.T) {
	ctx := WithScope(context.Background())

	sentinel := errors.New("upstream down")
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "", sentinel
	}

	_, err := Memoize(ctx, "k", fetch)
	require.ErrorIs(t, err, sentinel)

	_, err = Memoize(ctx, "k", fetch)
	require.ErrorIs(t, err, sentinel)

	require.Equal(t, 1, calls)
}
