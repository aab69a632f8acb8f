package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/npcforge/npcforge/config"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/vector"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 18490
	cfg.Metrics.Enabled = false
	cfg.Embedding.Dimension = 64
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a, err := newApp(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, a.start(ctx))
	return a
}

func post(t *testing.T, h http.Handler, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data)))
	return rec
}

// seedAndTurn creates a persona, world and NPC, then runs one greeting turn.
func seedAndTurn(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := post(t, h, "/persona/create", model.PersonaInput{PersonaID: "persona_bree", Name: "Barliman", Traits: []string{"forgetful"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = post(t, h, "/world/create", model.WorldInput{WorldID: "eriador", Title: "Eriador"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = post(t, h, "/npc/create", model.NPCInput{Name: "Barliman Butterbur", PersonaID: "persona_bree", WorldID: "eriador"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var n model.NPC
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))

	rec = post(t, h, "/npc/"+n.ID+"/turn", model.Observation{Actor: "frodo", Action: "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return n.ID
}

func TestNewApp_MemoryStack(t *testing.T) {
	cfg := testConfig(t)
	a := startApp(t, cfg)
	t.Cleanup(func() { _ = a.shutdown(context.Background()) })

	require.NotNil(t, a.ws, "websocket is enabled by default")
	assert.Nil(t, a.grpc)
	assert.Equal(t, 9, len(a.registry.Names()))

	h := a.http.Handler()
	seedAndTurn(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "running", status["engine"])
}

func TestNewApp_GRPCHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPC.Enabled = true
	cfg.Server.GRPC.Port = 0
	a := startApp(t, cfg)
	t.Cleanup(func() { _ = a.shutdown(context.Background()) })
	require.NotNil(t, a.grpc)

	conn, err := ggrpc.NewClient(a.grpc.Address(), ggrpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestNewApp_BadgerRebuildsVolatileIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "badger"
	cfg.Storage.Badger.Path = t.TempDir()

	first := startApp(t, cfg)
	h := first.http.Handler()
	npcID := seedAndTurn(t, h)
	importance := 0.9
	rec := post(t, h, "/npc/"+npcID+"/memory", model.MemoryInput{
		Content:    "Frodo left a ring with the Prancing Pony's keeper",
		Source:     "observation",
		Importance: &importance,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var mem model.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mem))
	require.Equal(t, model.LongTerm, mem.MemoryType)

	before := first.index.Stats()
	require.Greater(t, before[vector.Episodic].VectorCount, 0)
	require.NoError(t, first.shutdown(context.Background()))

	second := startApp(t, cfg)
	t.Cleanup(func() { _ = second.shutdown(context.Background()) })

	after := second.index.Stats()
	assert.Equal(t, before[vector.Episodic].VectorCount, after[vector.Episodic].VectorCount)
	for _, kind := range vector.Kinds {
		if before[kind].VectorCount > 0 {
			assert.Greater(t, after[kind].VectorCount, 0, kind)
		}
	}
}

func TestNewApp_InvalidBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "cassandra"
	_, err := newApp(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.LLM.Provider = "oracle"
	_, err = newApp(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Lock.Backend = "zookeeper"
	_, err = newApp(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestNewApp_FailureReleasesStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "badger"
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Lock.Backend = "zookeeper"

	a, err := newApp(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.Nil(t, a)

	// The directory lock is only free again if the first store was closed.
	cfg.Lock.Backend = "local"
	a, err = newApp(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, a.close())
}

func TestApplyReload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "info"
	log := logger.New(&logger.Config{Level: logger.InfoLevel, Format: "json", Output: "discard"})
	a, err := newApp(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })

	same := testConfig(t)
	same.Log.Level = "info"
	same.Server.Port = 18499
	a.applyReload(same)
	assert.Equal(t, logger.InfoLevel, log.GetLevel())
	assert.Equal(t, cfg.Engine.TurnTimeout, a.engine.TurnTimeout())

	next := testConfig(t)
	next.Log.Level = "debug"
	next.Engine.TurnTimeout = 7 * time.Second
	next.LLM.RateLimit = 3
	a.applyReload(next)
	assert.Equal(t, logger.DebugLevel, log.GetLevel())
	assert.Equal(t, 7*time.Second, a.engine.TurnTimeout())
	assert.Equal(t, config.ExtractHotReloadable(next), a.hot)
}

func TestBuildOverrides(t *testing.T) {
	prevPort, prevLevel, prevStorage := *serverPort, *logLevel, *storageType
	t.Cleanup(func() {
		*serverPort, *logLevel, *storageType = prevPort, prevLevel, prevStorage
	})

	assert.Empty(t, buildOverrides())

	*serverPort = 9000
	*logLevel = "debug"
	*storageType = "badger"
	assert.Equal(t, map[string]interface{}{
		"server.port":  9000,
		"log.level":    "debug",
		"storage.type": "badger",
	}, buildOverrides())
}

func TestConfigConversions(t *testing.T) {
	cfg := testConfig(t)

	lc := lockConfig(cfg.Lock)
	assert.Equal(t, cfg.Lock.Backend, lc.Backend)
	assert.Equal(t, cfg.Lock.Redis.Address, lc.Address)

	d := npcDefaults(cfg.Engine.Defaults)
	assert.Equal(t, model.DefaultNPCConfig(), d)

	mc := metricsConfig(cfg.Metrics)
	assert.False(t, mc.Enabled)
	assert.NotEmpty(t, mc.TurnDurationBuckets)
}
