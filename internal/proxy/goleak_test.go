// SPDX-License-Identifier: MIT

package proxy

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ytmpd/ytmpd/internal/store"
)

func TestProxy_ListenServeStop_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st, err := store.Open(filepath.Join(t.TempDir(), "tracks.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	srv := New(Deps{Store: st, Resolver: &stubResolver{}}, Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, srv.Listen())

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve()
	}()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(stopCtx))

	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	http.DefaultClient.CloseIdleConnections()
}
