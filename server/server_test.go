package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/history"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/protocol"
	"github.com/op13/liquidplan/server"
	"github.com/op13/liquidplan/transfer"
)

type fixture struct {
	srv  *httptest.Server
	mock *transfer.Mock
	lock *server.Locker
}

func setup(t *testing.T) fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	mock := transfer.NewMock(nil)
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })
	api := &server.API{
		Catalog: protocol.DefaultCatalog(),
		Handler: mock,
		Pair:    pipette.Pair{Left: pipette.P20, Right: pipette.P300},
		Params:  dilution.DefaultParams,
		Locker:  server.NewLocker(),
		Metrics: server.NewMetrics(reg),
		Log:     zap.NewNop(),
		History: hist,
	}
	srv := httptest.NewServer(server.NewRouter(api.Locker, reg, api))
	t.Cleanup(srv.Close)
	return fixture{srv: srv, mock: mock, lock: api.Locker}
}

func (f fixture) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestEndpoints(t *testing.T) {
	f := setup(t)
	code, body := f.do(t, http.MethodGet, "/endpoints", nil)
	require.Equal(t, http.StatusOK, code)
	var eps []string
	require.NoError(t, json.Unmarshal(body, &eps))
	for _, want := range []string{
		"GET /endpoints",
		"GET /lock",
		"GET /metrics",
		"GET /protocols",
		"POST /lock",
		"POST /plan/dilution",
		"POST /plan/wells",
		"POST /pipette/choose",
		"POST /protocols/{name}/run",
		"GET /runs",
		"GET /runs/{id}",
		"GET /runs/summary",
	} {
		assert.Contains(t, eps, want)
	}
	assert.IsNonDecreasing(t, eps)
}

func TestUnknownRoute(t *testing.T) {
	f := setup(t)
	code, body := f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), "GET /endpoints")
}

func TestPlanDilution(t *testing.T) {
	f := setup(t)
	req := server.DilutionRequest{Steps: []dilution.Step{
		{Wells: 3, VolumePerWell: 10, Factor: 1},
		{Wells: 3, VolumePerWell: 10, Factor: 10},
	}}
	code, body := f.do(t, http.MethodPost, "/plan/dilution", req)
	require.Equal(t, http.StatusOK, code, string(body))
	var c dilution.Chain
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, []float64{60, 5}, c.Sources())
	assert.Equal(t, []float64{0, 45}, c.Diluents())

	code, body = f.do(t, http.MethodPost, "/plan/dilution?format=csv", req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1,60,0\n2,5,45\n", string(body))
}

func TestPlanDilutionFromDoses(t *testing.T) {
	f := setup(t)
	req := server.DilutionRequest{
		Steps: []dilution.Step{
			{Wells: 3, VolumePerWell: 10},
			{Wells: 3, VolumePerWell: 10},
		},
		Doses: []float64{1000, 100},
	}
	code, body := f.do(t, http.MethodPost, "/plan/dilution", req)
	require.Equal(t, http.StatusOK, code, string(body))
	var c dilution.Chain
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, 10.0, c.Steps[1].Factor)

	req.Doses = []float64{1000}
	code, _ = f.do(t, http.MethodPost, "/plan/dilution", req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlanDilutionRejectsBadSteps(t *testing.T) {
	f := setup(t)
	code, body := f.do(t, http.MethodPost, "/plan/dilution", server.DilutionRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), dilution.ErrNoSteps.Error())

	code, _ = f.do(t, http.MethodPost, "/plan/dilution", "not an object")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlanWells(t *testing.T) {
	f := setup(t)
	body := []byte(`{"layout":{"rows":16,"columns":24},"regions":[{"rows":{"start":0,"stop":2},"columns":{"start":0,"stop":6}}]}`)
	resp, err := http.Post(f.srv.URL+"/plan/wells", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out server.WellsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []int{0, 1, 16, 17, 32, 33, 48, 49, 64, 65, 80, 81}, out.Wells)
	assert.Equal(t, "A1", out.Names[0])
	assert.Equal(t, "B6", out.Names[11])
}

func TestPlanWellsOverlap(t *testing.T) {
	f := setup(t)
	body := `{"layout":{"rows":8,"columns":12},"regions":[` +
		`{"rows":{"start":0,"stop":2},"columns":{"start":0,"stop":2}},` +
		`{"rows":{"start":1,"stop":3},"columns":{"start":0,"stop":2}}]}`
	resp, err := http.Post(f.srv.URL+"/plan/wells", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChoosePipette(t *testing.T) {
	f := setup(t)
	cases := []struct {
		req  server.ChooseRequest
		code int
		name string
	}{
		{server.ChooseRequest{Volume: 20}, http.StatusOK, pipette.P20.Name},
		{server.ChooseRequest{Volume: 20.01}, http.StatusOK, pipette.P300.Name},
		{server.ChooseRequest{Volume: 500}, http.StatusBadRequest, ""},
		{server.ChooseRequest{Volume: 500, Left: "P300", Right: "P1000"}, http.StatusOK, pipette.P1000.Name},
		{server.ChooseRequest{Volume: 5, Left: "P7", Right: "P20"}, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		code, body := f.do(t, http.MethodPost, "/pipette/choose", tc.req)
		assert.Equal(t, tc.code, code, "%+v", tc.req)
		if tc.code == http.StatusOK {
			var inst pipette.Instrument
			require.NoError(t, json.Unmarshal(body, &inst))
			assert.Equal(t, tc.name, inst.Name)
		}
	}
}

func TestProtocols(t *testing.T) {
	f := setup(t)
	code, body := f.do(t, http.MethodGet, "/protocols", nil)
	require.Equal(t, http.StatusOK, code)
	var list []server.ProtocolInfo
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 5)
	assert.Equal(t, "mastermix", list[0].Name)
	assert.NotEmpty(t, list[0].Description)

	code, body = f.do(t, http.MethodGet, "/protocols/series?format=text", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(string(body), "protocol series:"))

	code, _ = f.do(t, http.MethodGet, "/protocols/bogus", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRunProtocol(t *testing.T) {
	f := setup(t)
	code, body := f.do(t, http.MethodPost, "/protocols/series/run", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var out server.RunResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "series", out.Protocol)
	assert.Len(t, out.ID, 36)
	assert.True(t, out.Report.Done())
	assert.NotEmpty(t, f.mock.Calls())
	assert.False(t, f.lock.Locked())

	code, body = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `liquidplan_runs_total{protocol="series",result="ok"} 1`)
	assert.Contains(t, string(body), `liquidplan_operations_total{kind="transfer",result="ok"}`)
}

func TestRunHardwareFailure(t *testing.T) {
	f := setup(t)
	f.mock.FailAt = 2
	f.mock.FailErr = fault.ErrOutOfTips
	code, body := f.do(t, http.MethodPost, "/protocols/series/run", nil)
	require.Equal(t, http.StatusBadGateway, code, string(body))
	var out server.RunResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 0, out.Report.LastCompleted)
	assert.Contains(t, out.Report.Error, fault.ErrOutOfTips.Error())
}

func TestLockBlocksRuns(t *testing.T) {
	f := setup(t)
	code, _ := f.do(t, http.MethodPost, "/lock", server.BoolT{Bool: true})
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/lock", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"bool":true}`, string(body))

	code, _ = f.do(t, http.MethodPost, "/protocols/series/run", nil)
	assert.Equal(t, http.StatusLocked, code)
	assert.Empty(t, f.mock.Calls())

	// planning is not locked out
	code, _ = f.do(t, http.MethodGet, "/protocols", nil)
	assert.Equal(t, http.StatusOK, code)

	f.do(t, http.MethodPost, "/lock", server.BoolT{Bool: false})
	code, _ = f.do(t, http.MethodPost, "/protocols/series/run", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, server.StatusFor(fault.Config("x", 1, dilution.ErrFactor)))
	assert.Equal(t, http.StatusBadGateway, server.StatusFor(&fault.HardwareError{Err: fault.ErrOutOfTips}))
	assert.Equal(t, http.StatusNotFound, server.StatusFor(protocol.ErrUnknown))
	assert.Equal(t, http.StatusInternalServerError, server.StatusFor(io.EOF))
}

func TestRunHistory(t *testing.T) {
	f := setup(t)
	code, body := f.do(t, http.MethodPost, "/protocols/series/run", nil)
	require.Equal(t, http.StatusOK, code)
	var out server.RunResponse
	require.NoError(t, json.Unmarshal(body, &out))

	// locking the instrument does not hide the history
	f.lock.Lock()
	code, body = f.do(t, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, code)
	var runs []history.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, out.ID, runs[0].ID)

	code, body = f.do(t, http.MethodGet, "/runs/"+out.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var run history.Run
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, out.Report.Steps, run.Report.Steps)

	code, _ = f.do(t, http.MethodGet, "/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/runs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRunSummary(t *testing.T) {
	f := setup(t)
	code, _ := f.do(t, http.MethodPost, "/protocols/series/run", nil)
	require.Equal(t, http.StatusOK, code)

	n := len(f.mock.Calls())
	f.mock.Lock()
	f.mock.FailAt = n + 1
	f.mock.FailErr = fault.ErrOutOfTips
	f.mock.Unlock()
	code, _ = f.do(t, http.MethodPost, "/protocols/series/run", nil)
	require.Equal(t, http.StatusBadGateway, code)

	code, body := f.do(t, http.MethodGet, "/runs/summary?window=1h", nil)
	require.Equal(t, http.StatusOK, code)
	var sum server.RunSummary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Failed)

	code, _ = f.do(t, http.MethodGet, "/runs/summary?window=soon", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
