package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/smallsmt/internal/db"
	"github.com/banshee-data/smallsmt/internal/driver"
	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/position"
	"github.com/banshee-data/smallsmt/internal/simulator"
)

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	sim      *simulator.Controller
	db       *db.DB
	activity *ActivityCounter
}

// setupTestServer wires a server to a driver talking to a loopback simulator.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	appPort := freePort(t)
	sim := simulator.New(simulator.Config{
		Address: "127.0.0.1:0",
		ReplyTo: "127.0.0.1:" + strconv.Itoa(appPort),
	})
	require.NoError(t, sim.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	store, err := db.NewDB(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)

	activity := NewActivityCounter()
	d := driver.New(driver.Config{
		Host:            "127.0.0.1",
		DriverPort:      sim.Addr().(*net.UDPAddr).Port,
		ListenPort:      appPort,
		ResponseTimeout: 200 * time.Millisecond,
	}, driver.WithActivitySink(activity))

	t.Cleanup(func() {
		d.Disconnect()
		cancel()
		<-done
		sim.Close()
		store.Close()
	})

	s := NewServer(d, store, activity)
	return &testEnv{server: s, handler: s.ServeMux(), sim: sim, db: store, activity: activity}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCommandsRequireEnable(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		method, target, body string
	}{
		{http.MethodPost, "/api/home", ""},
		{http.MethodPost, "/api/move", `{"mountable":"N1","x":1}`},
		{http.MethodPost, "/api/pick?nozzle=N1", ""},
		{http.MethodPost, "/api/place?nozzle=N1", ""},
		{http.MethodPost, "/api/actuate", `{"name":"VAC","on":true}`},
		{http.MethodGet, "/api/actuate?name=VAC", ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := do(t, env.handler, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, env.sim.Requests())
}

func TestEnableMoveDisable(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.db.SaveMountable(position.Mountable{
		Name: "N2", Head: "H1", Offset: position.Location{X: 1, Y: 2},
	}))

	w := do(t, env.handler, http.MethodPost, "/api/enable", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decode[stateResponse](t, w)
	assert.Equal(t, "connected-enabled", state.State)
	assert.NotEmpty(t, state.SessionID)

	w = do(t, env.handler, http.MethodPost, "/api/move", `{"mountable":"N2","x":10,"y":20,"z":null,"speed":0.5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	loc := decode[locationResponse](t, w)
	assert.Equal(t, "H1", loc.Head)
	assert.Equal(t, position.Location{X: 10, Y: 20}, loc.Location)

	w = do(t, env.handler, http.MethodGet, "/api/location?head=H1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, position.Location{X: 9, Y: 18}, decode[locationResponse](t, w).Location)

	w = do(t, env.handler, http.MethodGet, "/api/location?mountable=N2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, position.Location{X: 10, Y: 20}, decode[locationResponse](t, w).Location)

	w = do(t, env.handler, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		State        string                       `json:"state"`
		PacketID     uint32                       `json:"packet_id"`
		Heads        map[string]position.Location `json:"heads"`
		Activity     map[string]int64             `json:"activity"`
		Stats        driver.StatsSnapshot         `json:"stats"`
		LastResponse *lastResponseJSON            `json:"last_response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "connected-enabled", status.State)
	assert.Equal(t, uint32(3), status.PacketID)
	assert.Equal(t, map[string]int64{"H1": 1}, status.Activity)
	assert.Equal(t, int64(3), status.Stats.OK)
	require.NotNil(t, status.LastResponse)
	assert.Nil(t, status.LastResponse.Value)
	assert.Equal(t, 9.0, *status.LastResponse.Axes["x"])

	w = do(t, env.handler, http.MethodPost, "/api/disable", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, stateResponse{State: "disconnected"}, decode[stateResponse](t, w))
	assert.False(t, env.sim.Enabled())
}

func TestMoveInlineMountableAndUnits(t *testing.T) {
	env := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, env.handler, http.MethodPost, "/api/enable", "").Code)

	w := do(t, env.handler, http.MethodPost, "/api/move",
		`{"mountable":"N3","head":"H2","offset":{"x":0,"y":0,"z":-5,"rotation":0},"x":1,"y":2,"z":0,"rotation":90,"units":"cm"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, position.Location{X: 10, Y: 20, Z: 0, Rotation: 90}, decode[locationResponse](t, w).Location)
	assert.Equal(t, 5.0, env.sim.Axes().Z3)
	assert.Equal(t, map[string]int64{"H2": 1}, env.activity.Counts())

	bad := []string{
		`{"x":1}`,
		`{"mountable":"N1","speed":2}`,
		`{"mountable":"N1","units":"furlong"}`,
		`{"mountable":"N1","bogus":1}`,
		`not json`,
	}
	for _, body := range bad {
		w := do(t, env.handler, http.MethodPost, "/api/move", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestActuate(t *testing.T) {
	env := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, env.handler, http.MethodPost, "/api/enable", "").Code)

	w := do(t, env.handler, http.MethodGet, "/api/actuate?name=VAC", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, actuateResponse{Name: "VAC"}, decode[actuateResponse](t, w))

	w = do(t, env.handler, http.MethodPost, "/api/actuate", `{"name":"VAC","value":0.25}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, env.handler, http.MethodGet, "/api/actuate?name=VAC", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[actuateResponse](t, w)
	require.NotNil(t, got.Value)
	assert.Equal(t, 0.25, *got.Value)

	w = do(t, env.handler, http.MethodPost, "/api/actuate", `{"name":"LED","on":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	for _, body := range []string{`{"name":"VAC"}`, `{"value":1}`, `{"name":"VAC","value":1,"on":true}`} {
		assert.Equal(t, http.StatusBadRequest, do(t, env.handler, http.MethodPost, "/api/actuate", body).Code, body)
	}
	assert.Equal(t, http.StatusBadRequest, do(t, env.handler, http.MethodGet, "/api/actuate", "").Code)
}

func TestControllerFailuresMapToGatewayErrors(t *testing.T) {
	env := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, env.handler, http.MethodPost, "/api/enable", "").Code)

	tests := []struct {
		behaviour simulator.Behaviour
		want      int
	}{
		{simulator.Silent, http.StatusGatewayTimeout},
		{simulator.Garbage, http.StatusGatewayTimeout},
		{simulator.Fatal, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.behaviour.String(), func(t *testing.T) {
			env.sim.Script(tt.behaviour)
			w := do(t, env.handler, http.MethodPost, "/api/pick?nozzle=N1", "")
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			w = do(t, env.handler, http.MethodPost, "/api/place?nozzle=N1", "")
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		})
	}
}

func TestEnableWithoutController(t *testing.T) {
	d := driver.New(driver.Config{
		Host:            "127.0.0.1",
		DriverPort:      freePort(t),
		ListenPort:      freePort(t),
		ResponseTimeout: 50 * time.Millisecond,
	})
	defer d.Disconnect()
	h := NewServer(d, nil, nil).ServeMux()

	w := do(t, h, http.MethodPost, "/api/enable", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.Equal(t, driver.StateDisconnected, d.State())
}

func TestFeedRate(t *testing.T) {
	env := setupTestServer(t)

	w := do(t, env.handler, http.MethodGet, "/api/feedrate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, *decode[feedRateBody](t, w).FeedRate)

	w = do(t, env.handler, http.MethodPut, "/api/feedrate", `{"feed_rate_mm_per_minute":1500}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, env.handler, http.MethodGet, "/api/feedrate", "")
	assert.Equal(t, 1500.0, *decode[feedRateBody](t, w).FeedRate)

	stored, ok, err := env.db.FeedRate()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1500.0, stored)

	for _, body := range []string{`{"feed_rate_mm_per_minute":-1}`, `{}`, `[]`} {
		assert.Equal(t, http.StatusBadRequest, do(t, env.handler, http.MethodPut, "/api/feedrate", body).Code, body)
	}
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, env.handler, http.MethodPost, "/api/feedrate", "").Code)
}

func TestMountables(t *testing.T) {
	env := setupTestServer(t)

	w := do(t, env.handler, http.MethodGet, "/api/mountables", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	w = do(t, env.handler, http.MethodPut, "/api/mountables", `{"name":"N1","head":"H1","offset":{"x":1.5,"y":0,"z":-2,"rotation":0}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, env.handler, http.MethodGet, "/api/mountables", "")
	assert.Equal(t, []position.Mountable{{Name: "N1", Head: "H1", Offset: position.Location{X: 1.5, Z: -2}}},
		decode[[]position.Mountable](t, w))

	assert.Equal(t, http.StatusBadRequest, do(t, env.handler, http.MethodPut, "/api/mountables", `{"name":"N9"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, env.handler, http.MethodDelete, "/api/mountables", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, env.handler, http.MethodGet, "/api/location?mountable=N9", "").Code)

	w = do(t, env.handler, http.MethodDelete, "/api/mountables?name=N1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	m, err := env.db.GetMountable("N1")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMountablesWithoutDB(t *testing.T) {
	h := NewServer(driver.New(driver.Config{}), nil, nil).ServeMux()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/mountables", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/location?mountable=N1", "").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewServer(driver.New(driver.Config{}), nil, nil).ServeMux()
	tests := []struct{ method, target string }{
		{http.MethodGet, "/api/enable"},
		{http.MethodGet, "/api/disable"},
		{http.MethodGet, "/api/home"},
		{http.MethodGet, "/api/move"},
		{http.MethodGet, "/api/pick"},
		{http.MethodGet, "/api/place"},
		{http.MethodDelete, "/api/actuate"},
		{http.MethodPost, "/api/location"},
		{http.MethodPost, "/api/status"},
	}
	for _, tt := range tests {
		w := do(t, h, tt.method, tt.target, "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", tt.method, tt.target)
	}
}

func TestWriteDriverError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not enabled", fmt.Errorf("pick: %w", driver.ErrNotEnabled), http.StatusConflict},
		{"connect", fmt.Errorf("%w: boom", driver.ErrConnect), http.StatusServiceUnavailable},
		{"enable timeout", fmt.Errorf("%w: %w", driver.ErrEnable, driver.ErrTimeout), http.StatusServiceUnavailable},
		{"timeout", &driver.CommandError{Verb: "pick", PacketID: 3, Err: driver.ErrTimeout}, http.StatusGatewayTimeout},
		{"fatal", &driver.CommandError{Verb: "pick", Err: &driver.FatalError{PacketID: 3, Status: -1}}, http.StatusBadGateway},
		{"send", &driver.CommandError{Verb: "pick", Err: driver.ErrSend}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeDriverError(w, tt.err)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, map[string]string{"error": tt.err.Error()}, decode[map[string]string](t, w))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	monitoring.SetLogger(func(format string, v ...interface{}) { fmt.Fprintf(&buf, format, v...) })
	defer monitoring.SetLogger(nil)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := do(t, h, http.MethodGet, "/api/status?x=1", "")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, buf.String(), statusCodeColor(http.StatusTeapot))
	assert.Contains(t, buf.String(), "/api/status?x=1")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"302"+colorReset, statusCodeColor(302))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"504"+colorReset, statusCodeColor(504))
	assert.Equal(t, "100", statusCodeColor(100))
}
