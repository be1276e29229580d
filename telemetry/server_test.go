package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deciphr/ModuSim/modbus"
	"github.com/deciphr/ModuSim/plant"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*plant.Plant, *Server) {
	t.Helper()
	p, err := plant.New(plant.DefaultParams())
	require.NoError(t, err)
	return p, NewServer(p, modbus.NewRegisterMap(p, nil), 10*time.Millisecond)
}

func TestHandleState(t *testing.T) {
	p, s := newTestServer(t)
	p.SetBeltRunning(true)
	p.SpawnBottle()

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var f Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	assert.Equal(t, "state", f.Type)
	assert.True(t, f.State.BeltRunning)
	assert.Len(t, f.State.Bottles, 1)
	assert.Equal(t, 100.0, f.State.Params.BeltLength)
}

func TestHandleRegisters(t *testing.T) {
	_, s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/registers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var infos []RegisterInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, len(modbus.Layout))
	assert.Equal(t, RegisterInfo{
		Type:        "coil",
		Address:     2,
		Name:        "spawn_bottle",
		Access:      "write",
		Description: modbus.Layout[2].Description,
	}, infos[2])
}

func TestHandleHealth(t *testing.T) {
	_, s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStream(t *testing.T) {
	p, s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var first Frame
	require.NoError(t, ws.ReadJSON(&first))
	assert.NotEmpty(t, first.ID)
	assert.Empty(t, first.State.Bottles)

	p.SpawnBottle()
	require.Eventually(t, func() bool {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return false
		}
		return f.ID == first.ID && len(f.State.Bottles) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.Subscribers())
}

func TestShutdownClosesStreams(t *testing.T) {
	_, s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var f Frame
	require.NoError(t, ws.ReadJSON(&f))
	require.Equal(t, 1, s.Subscribers())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		if err = ws.ReadJSON(&f); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
	assert.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, time.Millisecond)
}
