//go:build integration

package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRodPageInterceptsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/vehicles":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"results":[{"title":"Kia Rio"}]}`)
		default:
			fmt.Fprint(w, `<html><body><div id="app"></div><script>fetch("/api/vehicles")</script></body></html>`)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	r, err := NewRod(ctx, RodOptions{Headless: true})
	require.NoError(t, err)
	defer r.Close()

	p, err := r.NewPage(ctx)
	require.NoError(t, err)
	defer p.Close()

	var mu sync.Mutex
	var got []Response
	stop, err := p.OnResponse(func(u string) bool { return true }, func(resp Response) {
		mu.Lock()
		got = append(got, resp)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer stop()

	err = p.Navigate(ctx, srv.URL)
	if err != nil {
		require.ErrorIs(t, err, ErrSettleTimeout)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 100*time.Millisecond)
	assert.Contains(t, string(got[0].Body), "Kia Rio")
}
