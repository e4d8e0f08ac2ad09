package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(okHandler(), cfg, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Zero(t, cfg.MaxConnections)
	assert.Nil(t, cfg.TLS)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := startManager(t, DefaultConfig())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	require.NoError(t, m.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestManager_DoubleStart(t *testing.T) {
	m := startManager(t, DefaultConfig())

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := startManager(t, DefaultConfig())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.ErrorIs(t, m.Start(), ErrClosed)
}

func TestManager_ListenError(t *testing.T) {
	occupied := startManager(t, DefaultConfig())

	cfg := DefaultConfig()
	cfg.Addr = occupied.Addr()
	m := NewManager(okHandler(), cfg, nil)
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestManager_MaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	m := startManager(t, cfg)

	// 占住唯一的连接名额
	held, err := net.Dial("tcp", m.Addr())
	require.NoError(t, err)

	client := &http.Client{Timeout: 200 * time.Millisecond}
	_, err = client.Get("http://" + m.Addr() + "/")
	require.Error(t, err, "second connection must wait for a free slot")

	require.NoError(t, held.Close())
	require.Eventually(t, func() bool {
		c := &http.Client{Timeout: 500 * time.Millisecond, Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := c.Get("http://" + m.Addr() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}

func TestManager_TLS(t *testing.T) {
	ts := httptest.NewTLSServer(okHandler())
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.TLS = ts.TLS.Clone()
	m := startManager(t, cfg)

	resp, err := ts.Client().Get("https://" + m.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)
}

func TestManager_WaitForShutdownOnContext(t *testing.T) {
	m := startManager(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.WaitForShutdown(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_AddrBeforeStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager(okHandler(), cfg, zap.NewNop())

	assert.Equal(t, ":9999", m.Addr())
	select {
	case <-m.Errors():
		t.Fatal("unexpected error")
	default:
	}
}
