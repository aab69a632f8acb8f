package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPServer(t *testing.T) {
	h, _ := createTestHandlers(t)
	cfg := testConfig()
	cfg.Server.HTTP.MaxHeaderBytes = 1 << 16

	server := NewHTTPServer(cfg, testLogger(), h)
	require.NotNil(t, server)
	require.NotNil(t, server.server)
	require.NotNil(t, server.Handler())

	assert.Equal(t, "127.0.0.1:18480", server.server.Addr)
	assert.Equal(t, cfg.Server.HTTP.WriteTimeout, server.server.WriteTimeout)
	assert.Equal(t, 1<<16, server.server.MaxHeaderBytes)
}

func TestHTTPServer_StartAndShutdown(t *testing.T) {
	h, _ := createTestHandlers(t)
	cfg := testConfig()
	cfg.Server.Port = 18481

	server := NewHTTPServer(cfg, testLogger(), h)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Error("Start() did not return after shutdown")
	}
}
