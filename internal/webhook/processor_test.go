package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcar-bridge/internal/coordinator"
	"smartcar-bridge/internal/registry"
)

const testAppToken = "secret"

func newTestRouter(coordinators ...*coordinator.Coordinator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	processor := NewProcessor(testAppToken, coordinators, zerolog.Nop())
	r := gin.New()
	r.POST("/webhook/:id", processor.Handler())
	return r
}

func newTestCoordinator(hooks coordinator.Hooks) *coordinator.Coordinator {
	return coordinator.New(zerolog.Nop(), nil, coordinator.Config{
		VehicleID: "veh-1",
		VIN:       "VIN0001",
		GrantedScopes: []registry.Scope{
			registry.ScopeReadBattery, registry.ScopeReadOdometer, registry.ScopeReadTires,
		},
		Hooks: hooks,
	})
}

func deliver(t *testing.T, r *gin.Engine, payload any, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	switch p := payload.(type) {
	case string:
		body = []byte(p)
	default:
		var err error
		body, err = json.Marshal(p)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/hook-1", bytes.NewReader(body))
	if sign {
		req.Header.Set(SignatureHeader, Signature(testAppToken, string(body)))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signalMessage(signals ...map[string]any) map[string]any {
	return map[string]any{
		"eventType": "VEHICLE_STATE",
		"data": map[string]any{
			"vehicle": map[string]any{"id": "veh-1"},
			"signals": signals,
		},
	}
}

func TestVerifyShortCircuit(t *testing.T) {
	// No coordinators configured at all: VERIFY must not consult vehicle
	// resolution.
	r := newTestRouter()

	w := deliver(t, r, map[string]any{
		"eventType": "VERIFY",
		"data":      map[string]any{"challenge": "abcd"},
	}, false)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, Signature("secret", "abcd"), resp["challenge"])
}

func TestInvalidJSON(t *testing.T) {
	r := newTestRouter(newTestCoordinator(coordinator.Hooks{}))

	w := deliver(t, r, "{not json", true)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid_json"}`, w.Body.String())
}

func TestInvalidSignature(t *testing.T) {
	coord := newTestCoordinator(coordinator.Hooks{})
	r := newTestRouter(coord)

	w := deliver(t, r, signalMessage(map[string]any{
		"code":   "odometer-traveleddistance",
		"body":   map[string]any{"value": 100.0},
		"status": map[string]any{"value": "SUCCESS"},
	}), false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"invalid_signature"}`, w.Body.String())
	// The document is untouched.
	assert.Empty(t, coord.Data())
}

func TestUnknownVehicle(t *testing.T) {
	r := newTestRouter(newTestCoordinator(coordinator.Hooks{}))

	message := signalMessage()
	message["data"].(map[string]any)["vehicle"] = map[string]any{"id": "someone-else"}
	w := deliver(t, r, message, true)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"unknown_vehicle"}`, w.Body.String())
}

func TestSignalMergeAndSinglePublish(t *testing.T) {
	var published int
	coord := newTestCoordinator(coordinator.Hooks{
		OnPushUpdate: func(coordinator.Document) { published++ },
	})
	r := newTestRouter(coord)

	w := deliver(t, r, signalMessage(
		map[string]any{
			"code":   "odometer-traveleddistance",
			"name":   "odometer",
			"body":   map[string]any{"value": 4521.0, "unit": "kilometers"},
			"status": map[string]any{"value": "SUCCESS"},
			"meta":   map[string]any{"oemUpdatedAt": 1748779200000, "retrievedAt": 1748779260000},
		},
		map[string]any{
			"code":   "tractionbattery-stateofcharge",
			"name":   "state of charge",
			"body":   map[string]any{"value": 42.0, "unit": "percent"},
			"status": map[string]any{"value": "SUCCESS"},
		},
		map[string]any{
			"code":   "unknown-signal",
			"name":   "mystery",
			"body":   map[string]any{"value": 1.0},
			"status": map[string]any{"value": "SUCCESS"},
		},
	), true)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, published, "one publish per message, not per signal")

	doc := coord.Data()
	assert.Equal(t, map[string]any{"value": 4521.0}, doc["odometer-traveleddistance"])
	// Percent values are scaled into fractions before merge.
	assert.Equal(t, map[string]any{"value": 0.42}, doc["tractionbattery-stateofcharge"])

	meta := doc.Meta("odometer-traveleddistance")
	assert.Equal(t, "metric", meta.UnitSystem)
	require.NotNil(t, meta.DataAge)
	assert.Equal(t, time.UnixMilli(1748779200000).UTC(), *meta.DataAge)
}

func TestImperialUnitSystem(t *testing.T) {
	coord := newTestCoordinator(coordinator.Hooks{})
	r := newTestRouter(coord)

	w := deliver(t, r, signalMessage(map[string]any{
		"code":   "odometer-traveleddistance",
		"body":   map[string]any{"value": 2810.0, "unit": "miles"},
		"status": map[string]any{"value": "SUCCESS"},
	}), true)

	require.Equal(t, http.StatusNoContent, w.Code)
	doc := coord.Data()
	assert.Equal(t, map[string]any{"value": 2810.0}, doc["odometer-traveleddistance"])
	assert.Equal(t, "imperial", doc.Meta("odometer-traveleddistance").UnitSystem)
}

func TestErrorSignalPreservesMetadata(t *testing.T) {
	coord := newTestCoordinator(coordinator.Hooks{})
	r := newTestRouter(coord)

	// First a good reading with metadata.
	w := deliver(t, r, signalMessage(map[string]any{
		"code":   "tractionbattery-stateofcharge",
		"body":   map[string]any{"value": 55.0, "unit": "percent"},
		"status": map[string]any{"value": "SUCCESS"},
		"meta":   map[string]any{"oemUpdatedAt": 1748779200000},
	}), true)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, coord.Data().Meta("tractionbattery-stateofcharge").DataAge)

	// Then an error report for the same field.
	w = deliver(t, r, signalMessage(map[string]any{
		"code":   "tractionbattery-stateofcharge",
		"name":   "state of charge",
		"status": map[string]any{"value": "ERROR", "error": map[string]any{"type": "UPSTREAM", "code": "E42"}},
	}), true)
	require.Equal(t, http.StatusNoContent, w.Code)

	doc := coord.Data()
	// The value reads as null data...
	assert.Equal(t, map[string]any{"value": nil}, doc["tractionbattery-stateofcharge"])
	// ...but last-known metadata survives.
	assert.NotNil(t, doc.Meta("tractionbattery-stateofcharge").DataAge)
}

func TestIgnoredSignalsStillSucceed(t *testing.T) {
	coord := newTestCoordinator(coordinator.Hooks{})
	r := newTestRouter(coord)

	w := deliver(t, r, signalMessage(map[string]any{
		"code":   "unknown-signal",
		"body":   map[string]any{"value": 1.0},
		"status": map[string]any{"value": "SUCCESS"},
	}), true)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, coord.Data())
}

func TestPermissionErrorTriggersReauth(t *testing.T) {
	testCases := []struct {
		name    string
		entry   map[string]any
		expects bool
	}{
		{
			"permission error without signal list",
			map[string]any{
				"type":       "PERMISSION",
				"code":       "P1",
				"resolution": map[string]any{"type": "REAUTHENTICATE"},
			},
			true,
		},
		{
			"permission error naming a tracked signal",
			map[string]any{
				"type":       "PERMISSION",
				"code":       "P1",
				"resolution": map[string]any{"type": "REAUTHENTICATE"},
				"signals":    []string{"wheel-tires", "bogus"},
			},
			true,
		},
		{
			"permission error naming only untracked signals",
			map[string]any{
				"type":       "PERMISSION",
				"code":       "P1",
				"resolution": map[string]any{"type": "REAUTHENTICATE"},
				"signals":    []string{"bogus"},
			},
			false,
		},
		{
			"compatibility error",
			map[string]any{
				"type":       "COMPATIBILITY",
				"code":       "C1",
				"resolution": map[string]any{"type": "RETRY"},
			},
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reauths := 0
			coord := newTestCoordinator(coordinator.Hooks{
				RequestReauth: func() { reauths++ },
			})
			r := newTestRouter(coord)

			message := signalMessage()
			message["data"].(map[string]any)["errors"] = []map[string]any{tc.entry}
			w := deliver(t, r, message, true)

			require.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tc.expects, reauths == 1)
		})
	}
}
