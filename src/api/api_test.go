package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nhirsama/Goster-Mission/src/datastore"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/mission_manager"
	"github.com/nhirsama/Goster-Mission/src/transport"
	"github.com/nhirsama/Goster-Mission/src/uploader"
	"github.com/nhirsama/Goster-Mission/src/vehiclesim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planJSON = `{"columns":["timestamp","latitude","longitude","delay","drop","servo","drop_delay"],` +
	`"index":[0,1,2],` +
	`"data":[[1700000000,52.25,21.0,2,0,null,null],[1700000001,52.5,21.5,0,1,9,1],[1700000002,null,null,5,0,null,null]]}`

type testEnv struct {
	server  *httptest.Server
	vehicle *vehiclesim.Vehicle

	mu     sync.Mutex
	opened []string
}

func (e *testEnv) endpoints() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.opened...)
}

// setupServer wires the HTTP API to a simulated vehicle. Endpoints in
// requests are recorded and redirected to the simulator.
func setupServer(t *testing.T, vehicleOpts ...vehiclesim.Option) *testEnv {
	env := &testEnv{}

	vehicleOpts = append([]vehiclesim.Option{vehiclesim.WithHeartbeatInterval(50 * time.Millisecond)}, vehicleOpts...)
	v, err := vehiclesim.Listen("127.0.0.1:0", vehicleOpts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()
	env.vehicle = v

	ds, err := datastore.NewDataStoreSql("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	m := mission_manager.NewMissionManager(ds, nil,
		mission_manager.WithSessionOpener(func(ctx context.Context, endpoint string) (inter.Session, error) {
			env.mu.Lock()
			env.opened = append(env.opened, endpoint)
			env.mu.Unlock()
			sess, err := transport.Open(ctx, "udpout:"+v.Addr(), transport.WithHeartbeatTimeout(2*time.Second))
			if err != nil {
				return nil, err
			}
			return sess, nil
		}),
		mission_manager.WithUploader(uploader.New(
			uploader.WithItemRequestTimeout(500*time.Millisecond),
			uploader.WithAckTimeout(500*time.Millisecond),
			uploader.WithClearAckTimeout(300*time.Millisecond),
		)),
	)
	env.server = httptest.NewServer(NewApiServer(m, nil).Handler())

	t.Cleanup(func() {
		env.server.Close()
		cancel()
		v.Close()
		<-done
		ds.Close()
	})
	return env
}

func post(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func get(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestUpload_Accepted(t *testing.T) {
	env := setupServer(t)

	resp, body := post(t, env.server.URL+"/upload", UploadPayload{Data: planJSON, IP: "127.0.0.1", Port: 14550, Height: 30})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Data received successfully", body["message"])
	// takeoff, waypoint, waypoint, servo, drop delay, delay, rtl
	assert.EqualValues(t, 7, body["items"])
	id, _ := body["upload_id"].(string)
	require.NotEmpty(t, id)

	assert.Equal(t, []string{"udpin:127.0.0.1:14550"}, env.endpoints())
	require.Len(t, env.vehicle.Missions(), 1)

	resp, rec := get(t, env.server.URL+"/uploads/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Succeeded", rec["state"])

	resp, list := get(t, env.server.URL+"/uploads?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list["uploads"], 1)
}

func TestUpload_Rejected(t *testing.T) {
	env := setupServer(t, vehiclesim.WithResult(inter.MavMissionDenied))

	resp, body := post(t, env.server.URL+"/upload", UploadPayload{Data: planJSON, IP: "127.0.0.1", Port: 14550, Height: 30})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "MAV_MISSION_DENIED", body["result"])
	assert.NotEmpty(t, body["upload_id"])
}

func TestUpload_SilentVehicle(t *testing.T) {
	env := setupServer(t, vehiclesim.WithSilence())

	resp, body := post(t, env.server.URL+"/upload", UploadPayload{Data: planJSON, IP: "127.0.0.1", Port: 14550, Height: 30})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Failed", body["state"])
}

func TestUpload_InvalidRows(t *testing.T) {
	env := setupServer(t)

	data := `{"columns":["latitude","longitude","delay","drop","servo","drop_delay"],"index":[0,1,2],` +
		`"data":[[91,0,0,0,null,null],[10,10,0,0,null,null],[10,10,0,1,null,null]]}`
	resp, body := post(t, env.server.URL+"/upload", UploadPayload{Data: data, IP: "127.0.0.1", Port: 14550, Height: 30})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []interface{}{float64(0), float64(2)}, body["invalid_rows"])
	assert.Len(t, body["errors"], 2)
	assert.Empty(t, env.endpoints())
}

func TestUpload_BadRequests(t *testing.T) {
	env := setupServer(t)

	cases := []struct {
		name    string
		payload UploadPayload
		message string
	}{
		{"no data", UploadPayload{IP: "127.0.0.1", Port: 14550, Height: 30}, "No data received"},
		{"no ip", UploadPayload{Data: planJSON, Port: 14550, Height: 30}, "ip is required"},
		{"bad port", UploadPayload{Data: planJSON, IP: "127.0.0.1", Port: 70000, Height: 30}, "port 70000 out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := post(t, env.server.URL+"/upload", tc.payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.message, body["message"])
		})
	}

	resp, err := http.Post(env.server.URL+"/upload", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := post(t, env.server.URL+"/upload", UploadPayload{Data: `{"columns":["latitude"],"data":[["north"]]}`, IP: "127.0.0.1", Port: 1, Height: 30})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "invalid flight plan")
	assert.Empty(t, env.endpoints())
}

func TestCompile_DryRun(t *testing.T) {
	env := setupServer(t)

	resp, body := post(t, env.server.URL+"/compile", UploadPayload{Data: planJSON, Height: 25})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["count"])
	items := body["items"].([]interface{})
	first := items[0].(map[string]interface{})
	assert.EqualValues(t, inter.MavCmdNavTakeoff, first["command"])
	assert.EqualValues(t, 25, first["z"])
	assert.Empty(t, env.endpoints())

	resp, _ = post(t, env.server.URL+"/compile", UploadPayload{Data: planJSON, Height: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory_AndHealth(t *testing.T) {
	env := setupServer(t)

	resp, body := get(t, env.server.URL+"/uploads")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{}, body["uploads"])

	resp, _ = get(t, env.server.URL+"/uploads?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, env.server.URL+"/uploads/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, env.server.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s := NewApiServer(mission_manager.NewMissionManager(nil, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
