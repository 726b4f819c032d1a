package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/mastercactapus/wellcnc/gcode"
	"github.com/mastercactapus/wellcnc/logger"
	"github.com/mastercactapus/wellcnc/machine"
	"github.com/mastercactapus/wellcnc/machine/grbl"
	"github.com/mastercactapus/wellcnc/plate"
)

// stateSink receives every status report from the controller.
type stateSink interface {
	Publish(machine.State)
}

type api struct {
	http.Handler
	m      *machine.Machine
	plates map[string]plate.Layout
	sse    *sse.Server
	sinks  []stateSink
	log    logger.Logger
}

func newAPI(m *machine.Machine, plates map[string]plate.Layout, sinks ...stateSink) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		m:       m,
		plates:  plates,
		sinks:   sinks,
		log:     logger.With("component", "api"),
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}

	r.Use(a.middleware)
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/position", a.position).Methods("GET")
	r.HandleFunc("/api/ports", a.ports).Methods("GET")
	r.HandleFunc("/api/plates", a.listPlates).Methods("GET")
	r.HandleFunc("/api/move", a.move).Methods("POST")
	r.HandleFunc("/api/run", a.run).Methods("POST")
	r.HandleFunc("/api/wells", a.wells).Methods("POST")
	r.HandleFunc("/api/home", a.command(m.Home)).Methods("POST")
	r.HandleFunc("/api/unlock", a.command(m.Unlock)).Methods("POST")
	r.HandleFunc("/api/reset", a.command(m.Reset)).Methods("POST")
	r.PathPrefix("/events/").Handler(a.sse)

	if ch := m.State(); ch != nil {
		go a.watch(ch)
	}

	return a
}

func (a *api) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		a.log.Debug("request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		next.ServeHTTP(w, req)
	})
}

func (a *api) watch(ch <-chan machine.State) {
	for state := range ch {
		data, err := json.Marshal(state)
		if err != nil {
			a.log.Error("marshal state", "error", err)
			continue
		}
		a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
		for _, s := range a.sinks {
			s.Publish(state)
		}
	}
}

// Close stops the event stream.
func (a *api) Close() { a.sse.Shutdown() }

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpStatus(err error) int {
	var oob *machine.OutOfBoundsError
	switch {
	case errors.As(err, &oob):
		return http.StatusUnprocessableEntity
	case errors.Is(err, machine.ErrNotConnected), errors.Is(err, machine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, machine.ErrMachineUnresponsive):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (a *api) fail(w http.ResponseWriter, op string, err error) {
	code := httpStatus(err)
	if code >= 500 {
		a.log.Error(op, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":   a.m.Config().Model,
		"phase":   a.m.Phase().String(),
		"pending": a.m.Pending(),
	})
}

func (a *api) position(w http.ResponseWriter, req *http.Request) {
	s, err := a.m.ReadCoordinates(req.Context())
	if err != nil {
		a.fail(w, "position", err)
		return
	}
	if s == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "position temporarily unknown"})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) ports(w http.ResponseWriter, req *http.Request) {
	ports, err := grbl.ListPorts()
	if err != nil {
		a.fail(w, "ports", err)
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

func (a *api) listPlates(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, a.plates)
}

type moveRequest struct {
	X, Y, Z *float64
}

func (mr moveRequest) move() (machine.Move, error) {
	switch {
	case mr.X != nil && mr.Y != nil && mr.Z == nil:
		return machine.XY(*mr.X, *mr.Y), nil
	case mr.X == nil && mr.Y == nil && mr.Z != nil:
		return machine.Z(*mr.Z), nil
	}
	return machine.Move{}, errors.New("each move needs either x and y, or z")
}

// move runs the posted moves as one uninterrupted sequence, e.g.
//
//	{"moves": [{"z": -5}, {"x": 10, "y": 20}]}
func (a *api) move(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Moves []moveRequest
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	moves := make([]machine.Move, len(body.Moves))
	for i, mr := range body.Moves {
		mv, err := mr.move()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		moves[i] = mv
	}

	a.runMoves(w, req, moves)
}

func (a *api) runMoves(w http.ResponseWriter, req *http.Request, moves []machine.Move) {
	if err := a.m.Run(req.Context(), moves...); err != nil {
		a.fail(w, "run", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// run loads a G-code program of rapid moves from the body and runs it.
func (a *api) run(w http.ResponseWriter, req *http.Request) {
	moves, err := machine.LoadMoves(gcode.NewParser(req.Body))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a.runMoves(w, req, moves)
}

// wells dispenses into wells of a configured plate, e.g.
//
//	{"plate": "24well", "wells": ["A1", "B1"], "dwell": "2s"}
func (a *api) wells(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Plate string
		Wells []string
		Dwell string
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	l, ok := a.plates[body.Plate]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown plate " + body.Plate})
		return
	}
	for _, name := range body.Wells {
		if _, err := l.Well(name); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	var dwell time.Duration
	if body.Dwell != "" {
		var err error
		dwell, err = time.ParseDuration(body.Dwell)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	err := a.m.DispenseWells(req.Context(), l, body.Wells, func(ctx context.Context, well string) error {
		a.sse.SendMessage("/events/wells", sse.SimpleMessage(well))
		t := time.NewTimer(dwell)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	})
	if err != nil {
		a.fail(w, "wells", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) command(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := fn(req.Context()); err != nil {
			a.fail(w, req.URL.Path, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
