package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/history"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/protocol"
	"github.com/op13/liquidplan/transfer"
)

// API serves planning requests and protocol runs
type API struct {
	Catalog protocol.Catalog

	// Handler executes runs; it is wrapped by Metrics if that is set
	Handler transfer.Handler

	// Pair is used when a request names no instruments
	Pair pipette.Pair

	// Params are the dilution defaults
	Params dilution.Params

	Locker  *Locker
	Metrics *Metrics

	// Log may be nil
	Log *zap.Logger

	// History, if set, records every run
	History *history.Store
}

// DilutionRequest is the body of POST /plan/dilution
type DilutionRequest struct {
	Steps []dilution.Step `json:"steps"`

	// Doses, when given, set the step factors
	Doses []float64 `json:"doses,omitempty"`

	Params *dilution.Params `json:"params,omitempty"`
}

// WellsRequest is the body of POST /plan/wells
type WellsRequest struct {
	Layout  plate.Layout   `json:"layout"`
	Regions []plate.Region `json:"regions"`
}

// WellsResponse lists the mapped wells
type WellsResponse struct {
	Wells []int    `json:"wells"`
	Names []string `json:"names"`
}

// ChooseRequest is the body of POST /pipette/choose
type ChooseRequest struct {
	Volume float64 `json:"volume"`
	Left   string  `json:"left,omitempty"`
	Right  string  `json:"right,omitempty"`
}

// ProtocolInfo describes one catalog entry
type ProtocolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RunSummary counts the runs started within a window
type RunSummary struct {
	Since  time.Time `json:"since"`
	Total  int       `json:"total"`
	Failed int       `json:"failed"`
}

// RunResponse is the outcome of POST /protocols/{name}/run
type RunResponse struct {
	ID       string          `json:"id"`
	Protocol string          `json:"protocol"`
	Report   transfer.Report `json:"report"`
}

func (a *API) logger() *zap.Logger {
	if a.Log == nil {
		return zap.NewNop()
	}
	return a.Log
}

// RT implements HTTPer
func (a *API) RT() RouteTable {
	return RouteTable{
		MethodPath{http.MethodPost, "/plan/dilution"}:        a.planDilution,
		MethodPath{http.MethodPost, "/plan/wells"}:           a.planWells,
		MethodPath{http.MethodPost, "/pipette/choose"}:       a.choose,
		MethodPath{http.MethodGet, "/protocols"}:             a.listProtocols,
		MethodPath{http.MethodGet, "/protocols/{name}"}:      a.getProtocol,
		MethodPath{http.MethodPost, "/protocols/{name}/run"}: a.run,
		MethodPath{http.MethodGet, "/runs"}:                  a.listRuns,
		MethodPath{http.MethodGet, "/runs/{id}"}:             a.getRun,
		MethodPath{http.MethodGet, "/runs/summary"}:          a.summarizeRuns,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) planDilution(w http.ResponseWriter, r *http.Request) {
	var req DilutionRequest
	if !decode(w, r, &req) {
		return
	}
	params := a.Params
	if req.Params != nil {
		params = *req.Params
	}
	if req.Doses != nil {
		factors, err := dilution.FactorsFromDoses(req.Doses)
		if err != nil {
			Fail(w, err)
			return
		}
		if len(factors) != len(req.Steps) {
			Fail(w, fault.Config("doses", len(req.Doses), dilution.ErrDose))
			return
		}
		for i := range req.Steps {
			req.Steps[i].Factor = factors[i]
		}
	}
	chain, err := dilution.Plan(req.Steps, params)
	if err != nil {
		Fail(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := chain.WriteTable(w); err != nil {
			a.logger().Error("writing table", zap.Error(err))
		}
		return
	}
	Reply(w, http.StatusOK, chain)
}

func (a *API) planWells(w http.ResponseWriter, r *http.Request) {
	var req WellsRequest
	if !decode(w, r, &req) {
		return
	}
	wells, err := plate.Map(req.Layout, req.Regions...)
	if err != nil {
		Fail(w, fault.Config("regions", len(req.Regions), err))
		return
	}
	Reply(w, http.StatusOK, WellsResponse{Wells: wells, Names: req.Layout.Names(wells)})
}

func (a *API) choose(w http.ResponseWriter, r *http.Request) {
	var req ChooseRequest
	if !decode(w, r, &req) {
		return
	}
	pair := a.Pair
	if req.Left != "" || req.Right != "" {
		left, err := pipette.Lookup(req.Left)
		if err != nil {
			Fail(w, fault.Config("left", req.Left, err))
			return
		}
		right, err := pipette.Lookup(req.Right)
		if err != nil {
			Fail(w, fault.Config("right", req.Right, err))
			return
		}
		pair = pipette.Pair{Left: left, Right: right}
	}
	inst, err := pair.Choose(req.Volume)
	if err != nil {
		Fail(w, err)
		return
	}
	Reply(w, http.StatusOK, inst)
}

func (a *API) listProtocols(w http.ResponseWriter, r *http.Request) {
	out := []ProtocolInfo{}
	for _, name := range a.Catalog.Names() {
		out = append(out, ProtocolInfo{Name: name, Description: a.Catalog[name].Describe()})
	}
	Reply(w, http.StatusOK, out)
}

func (a *API) getProtocol(w http.ResponseWriter, r *http.Request) {
	plan, err := a.Catalog.Build(chi.URLParam(r, "name"))
	if err != nil {
		Fail(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := plan.Render(w); err != nil {
			a.logger().Error("rendering plan", zap.Error(err))
		}
		return
	}
	Reply(w, http.StatusOK, plan)
}

func (a *API) run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !a.Locker.TryLock() {
		http.Error(w, "instrument is busy", http.StatusLocked)
		return
	}
	defer a.Locker.Unlock()

	plan, err := a.Catalog.Build(name)
	if err != nil {
		Fail(w, err)
		return
	}
	h := a.Handler
	if a.Metrics != nil {
		h = a.Metrics.Wrap(h)
	}
	id := uuid.New().String()
	log := a.logger().With(zap.String("run", id), zap.String("protocol", name))
	log.Info("run starting", zap.Int("steps", len(plan.Steps)))
	rep, err := transfer.Executor{Handler: h, Deck: plan.Deck, Log: log}.Run(r.Context(), plan.Ops())
	if a.Metrics != nil {
		a.Metrics.Runs.WithLabelValues(name, result(err)).Inc()
	}
	if a.History != nil {
		// the request may be gone; the record must still be written
		if herr := a.History.Record(context.Background(), history.Run{ID: id, Protocol: name, Report: rep}); herr != nil {
			log.Error("recording run", zap.Error(herr))
		}
	}
	status := http.StatusOK
	if err != nil {
		status = StatusFor(err)
	}
	Reply(w, status, RunResponse{ID: id, Protocol: name, Report: rep})
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		Reply(w, http.StatusOK, []history.Run{})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		var err error
		if limit, err = strconv.Atoi(s); err != nil {
			http.Error(w, "limit: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	runs, err := a.History.List(r.Context(), limit)
	if err != nil {
		Fail(w, err)
		return
	}
	Reply(w, http.StatusOK, runs)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		http.Error(w, "no run history kept", http.StatusNotFound)
		return
	}
	run, err := a.History.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, err)
		return
	}
	Reply(w, http.StatusOK, run)
}

// summarizeRuns counts runs over ?window=, a duration defaulting to 24h
func (a *API) summarizeRuns(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if s := r.URL.Query().Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "window must be a positive duration", http.StatusBadRequest)
			return
		}
		window = d
	}
	sum := RunSummary{Since: time.Now().Add(-window)}
	if a.History != nil {
		var err error
		sum.Total, sum.Failed, err = a.History.Since(r.Context(), sum.Since)
		if err != nil {
			Fail(w, err)
			return
		}
	}
	Reply(w, http.StatusOK, sum)
}
