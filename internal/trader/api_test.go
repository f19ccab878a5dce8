package trader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAPIServer_Status(t *testing.T) {
	// Arrange
	dex, cex := quoteSources("100", "100.6")
	engine, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex, Cex: cex})
	require.NoError(t, err)
	api := NewAPIServer(engine, 0, zap.NewNop())
	handler := api.routes()

	t.Run("BeforeFirstCycle", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var status Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "DRY RUN", status.Mode)
		assert.Equal(t, "BNB/USDT", status.Pair)
		assert.Zero(t, status.Cycles)
		assert.Nil(t, status.LastCycle)
	})

	t.Run("AfterCycle", func(t *testing.T) {
		// Act
		engine.RunCycle(context.Background())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var status Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, uint64(1), status.Cycles)
		assert.Equal(t, uint64(1), status.Signals)
		require.NotNil(t, status.LastCycle)
		assert.Equal(t, "executed", status.LastCycle.Status)
		assert.Equal(t, "0.6000", status.LastCycle.SpreadPct)
		assert.Equal(t, "BUY_DEX_SELL_CEX", status.LastCycle.Direction)
		require.Len(t, status.LastCycle.Legs, 2)
		assert.Equal(t, "skipped", status.LastCycle.Legs[0].Status)
	})
}

func TestAPIServer_Health(t *testing.T) {
	dex, cex := quoteSources("1", "1")
	engine, err := NewEngine(zap.NewNop(), testConfig(true), Deps{Dex: dex, Cex: cex})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewAPIServer(engine, 0, zap.NewNop()).routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}
