package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gsend/machine"
	"github.com/mastercactapus/gsend/machine/grbl"
	"github.com/mastercactapus/gsend/machine/grbl/grblsim"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type testAPI struct {
	*api
	sim *grblsim.Sim
	c   *grbl.Controller
	dir string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	a := newAPI(dir, quiet)

	sim := grblsim.New(grblsim.Config{
		Logger:  quiet,
		Surface: func(x, y float64) float64 { return -5 },
	})
	cfg := DefaultConfig().Grbl
	cfg.StatusInterval = 10 * time.Millisecond
	c := grbl.NewController(sim, cfg.controller(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	a.setMachine(machine.NewMachine(c, quiet))
	require.Eventually(t, func() bool { return c.Snapshot().Idle() }, 2*time.Second, 5*time.Millisecond)

	return &testAPI{api: a, sim: sim, c: c, dir: dir}
}

func (a *testAPI) do(method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func (a *testAPI) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) idle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return a.c.Snapshot().Idle() }, 5*time.Second, 5*time.Millisecond)
}

func TestAPI_NotConnected(t *testing.T) {
	a := newAPI(t.TempDir(), quiet)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest("GET", "/api/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_Run(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do("POST", "/api/run", "G0 X5\nG1 Y2 F500\n")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		s := a.c.Snapshot()
		return s.Idle() && s.Sent == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 5.0, a.sim.Position().X)
	assert.Equal(t, 2.0, a.sim.Position().Y)

	rec = a.do("GET", "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap machine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "Idle", snap.Status)
	assert.Equal(t, 2, snap.Total)

	rec = a.do("POST", "/api/run", "G2 X10 Y0 R1\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Control(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do("POST", "/api/unlock", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do("POST", "/api/send", "G1 X[1\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do("POST", "/api/send", "G10 L20 P1 X0\n")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do("GET", "/api/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_Jog(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/api/jog/q/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/api/jog/x/2", "").Code)

	rec := a.do("POST", "/api/jog/x/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool { return a.sim.Position().X == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusOK, a.do("POST", "/api/jog/stop", "").Code)
	a.idle(t)
}

func TestAPI_DataFiles(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do("PUT", "/data/jobs/part.nc", "G0 X1\n")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do("GET", "/data/jobs/part.nc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "G0 X1\n", rec.Body.String())

	// paths cannot escape the data directory
	rec = a.do("PUT", "/data/../escape.nc", "G0 X1\n")
	_, err := os.Stat(filepath.Join(filepath.Dir(a.dir), "escape.nc"))
	assert.True(t, os.IsNotExist(err), rec.Code)

	rec = a.do("DELETE", "/data/jobs/part.nc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, a.do("GET", "/data/jobs/part.nc", "").Code)
}

func TestAPI_Probe(t *testing.T) {
	a := newTestAPI(t)

	form := url.Values{"feedRate": {"100"}, "maxZTravel": {"-10"}}
	rec := a.postForm("/api/probe", form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res machine.ProbeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.InDelta(t, -5, res.Z, 1e-9)

	form = url.Values{"feedRate": {"fast"}, "maxZTravel": {"-10"}}
	assert.Equal(t, http.StatusBadRequest, a.postForm("/api/probe", form).Code)
}

func TestAPI_MeshLevel(t *testing.T) {
	a := newTestAPI(t)

	grid := []machine.ProbeResult{
		{Valid: true}, {Valid: true}, {Valid: true}, {Valid: true},
	}
	for i, xy := range [][2]float64{{0, 0}, {10, 0}, {0, 10}, {10, 10}} {
		grid[i].X, grid[i].Y, grid[i].Z = xy[0], xy[1], 1
	}
	data, err := json.Marshal(grid)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a.dir, gridFile), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(a.dir, "part.nc"), []byte("G90 G1 X2 Y1 F100\n"), 0644))

	form := url.Values{"file": {"part.nc"}, "granularity": {"5"}}
	rec := a.postForm("/api/mesh-level", form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Blocks int
		File   string
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Blocks)
	assert.Equal(t, "/data/part.leveled.nc", res.File)

	leveled, err := os.ReadFile(filepath.Join(a.dir, "part.leveled.nc"))
	require.NoError(t, err)
	assert.Equal(t, "G90G1X2Y1F100Z1\n", string(leveled))
	assert.Equal(t, 1, a.c.Snapshot().Total)

	form = url.Values{"file": {""}, "granularity": {"5"}}
	assert.Equal(t, http.StatusBadRequest, a.postForm("/api/mesh-level", form).Code)
}
