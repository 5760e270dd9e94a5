package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"

	"github.com/mastercactapus/gsend/gcode"
	"github.com/mastercactapus/gsend/machine"
	"github.com/mastercactapus/gsend/machine/grbl"
)

const gridFile = "grid.json"

type api struct {
	http.Handler
	log     *slog.Logger
	m       atomic.Pointer[machine.Machine]
	dataDir string
	sse     *sse.Server
}

func newAPI(dir string, log *slog.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		log:     log,
		dataDir: dir,
		sse: sse.NewServer(&sse.Options{
			Logger: slog.NewLogLogger(log.Handler(), slog.LevelDebug),
		}),
	}
	r.Use(a.cors)

	fs := http.FileServer(http.Dir(dir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/state", a.with(a.state)).Methods("GET")
	s.HandleFunc("/load", a.with(a.load)).Methods("POST")
	s.HandleFunc("/run", a.with(a.run)).Methods("POST")
	s.HandleFunc("/send", a.with(a.send)).Methods("POST")
	s.HandleFunc("/probe", a.with(a.probe)).Methods("POST")
	s.HandleFunc("/tool-change", a.with(a.toolChange)).Methods("POST")
	s.HandleFunc("/mesh-level", a.with(a.meshLevel)).Methods("POST")
	s.HandleFunc("/jog/stop", a.with(simple((*machine.Machine).StopJog))).Methods("POST")
	s.HandleFunc("/jog/{axis}/{dir}", a.with(a.jog)).Methods("POST")
	for name, fn := range map[string]func(*machine.Machine) error{
		"start":  (*machine.Machine).Start,
		"pause":  (*machine.Machine).Pause,
		"resume": (*machine.Machine).Resume,
		"stop":   (*machine.Machine).Stop,
		"unlock": (*machine.Machine).Unlock,
		"reset":  (*machine.Machine).Reset,
	} {
		s.HandleFunc("/"+name, a.with(simple(fn))).Methods("POST")
	}

	r.Handle("/events/{channel}", a.sse)

	return a
}

func (a *api) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		a.log.Debug("request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		next.ServeHTTP(w, req)
	})
}

func (a *api) setMachine(m *machine.Machine) { a.m.Store(m) }

type handlerFunc func(w http.ResponseWriter, req *http.Request, m *machine.Machine) error

// with resolves the connected machine and maps returned errors to responses.
func (a *api) with(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		m := a.m.Load()
		if m == nil {
			http.Error(w, "controller not connected", http.StatusServiceUnavailable)
			return
		}
		err := fn(w, req, m)
		if err == nil {
			return
		}

		code := http.StatusInternalServerError
		var be *gcode.BlockError
		switch {
		case errors.As(err, &be), errors.Is(err, errBadRequest):
			code = http.StatusBadRequest
		case errors.Is(err, machine.ErrNotIdle), errors.Is(err, grbl.ErrInvalidTransition):
			code = http.StatusConflict
		case errors.Is(err, grbl.ErrDeferred):
			code = http.StatusServiceUnavailable
		}
		a.log.Error("request failed", "path", req.URL.Path, "err", err)
		http.Error(w, err.Error(), code)
	}
}

func simple(fn func(*machine.Machine) error) handlerFunc {
	return func(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
		return fn(m)
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// pump forwards snapshots to event stream subscribers.
func (a *api) pump(ctx context.Context, events <-chan machine.Snapshot) {
	for {
		var snap machine.Snapshot
		select {
		case <-ctx.Done():
			return
		case snap = <-events:
		}
		data, err := json.Marshal(snap)
		if err != nil {
			a.log.Error("marshal state", "err", err)
			continue
		}
		a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) state(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	return writeJSON(w, m.Snapshot())
}

func readProgram(req *http.Request) ([]gcode.Block, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	return gcode.Parse(string(data))
}

func (a *api) load(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	b, err := readProgram(req)
	if err != nil {
		return err
	}
	return m.Load(b)
}

// run loads and starts the program; progress is reported on the event stream.
func (a *api) run(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	err := a.load(w, req, m)
	if err != nil {
		return err
	}
	err = m.Start()
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}

func (a *api) send(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	b, err := gcode.ParseLine(1, strings.TrimSpace(string(data)))
	if err != nil {
		return err
	}
	return m.Send(b)
}

func (a *api) jog(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	vars := mux.Vars(req)
	axis := strings.ToUpper(vars["axis"])
	if len(axis) != 1 || !strings.Contains("XYZ", axis) {
		return badRequest("invalid axis %q", vars["axis"])
	}
	dir, err := strconv.Atoi(vars["dir"])
	if err != nil || (dir != 1 && dir != -1) {
		return badRequest("invalid direction %q", vars["dir"])
	}
	return m.Jog(axis[0], dir)
}

type formParser struct {
	req *http.Request
	err error
}

func (p *formParser) float(param string) float64 {
	if p.err != nil {
		return 0
	}
	val, err := strconv.ParseFloat(p.req.FormValue(param), 64)
	if err != nil {
		p.err = badRequest("%s: %v", param, err)
	}
	return val
}

func (a *api) probe(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	ok, name := safePath(a.dataDir, gridFile)
	if !ok {
		return errors.New("invalid data directory")
	}

	p := &formParser{req: req}
	var opt machine.ProbeOptions
	opt.ZeroZAxis = req.FormValue("zeroZAxis") == "1"
	opt.Wait = req.FormValue("wait") == "1"
	opt.FeedRate = p.float("feedRate")
	opt.MaxTravel = p.float("maxZTravel")
	if req.FormValue("offset") != "" {
		opt.Offset = p.float("offset")
	}

	grid := req.FormValue("grid") == "1"
	var gOpt machine.ProbeGridOptions
	if grid {
		gOpt = machine.ProbeGridOptions{
			ProbeOptions: opt,
			DistanceX:    p.float("xDist"),
			DistanceY:    p.float("yDist"),
			Granularity:  p.float("granularity"),
		}
	}
	if p.err != nil {
		return p.err
	}

	if !grid {
		res, err := m.ProbeZ(req.Context(), opt)
		if err != nil {
			return err
		}
		return writeJSON(w, res)
	}

	res, err := m.ProbeZGrid(req.Context(), gOpt)
	if err != nil {
		return err
	}

	out := io.Writer(w)
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		a.log.Error("save probe grid", "file", name, "err", err)
	} else {
		defer f.Close()
		out = io.MultiWriter(w, f)
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(out).Encode(res)
}

func (a *api) toolChange(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	var opt machine.ToolChangeOptions
	err := json.NewDecoder(req.Body).Decode(&opt)
	if err != nil {
		return badRequest("decode: %v", err)
	}

	return m.ToolChange(req.Context(), opt)
}

// meshLevel loads a data file leveled against the saved probe grid and
// stores the result next to it.
func (a *api) meshLevel(w http.ResponseWriter, req *http.Request, m *machine.Machine) error {
	p := &formParser{req: req}
	granularity := p.float("granularity")
	if p.err != nil {
		return p.err
	}
	ok, src := safePath(a.dataDir, req.FormValue("file"))
	if !ok || req.FormValue("file") == "" {
		return badRequest("invalid file %q", req.FormValue("file"))
	}
	_, gridName := safePath(a.dataDir, gridFile)

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	program, err := gcode.Parse(string(data))
	if err != nil {
		return err
	}
	probes, err := loadProbes(gridName)
	if err != nil {
		return err
	}

	plugin := machine.MeshLevel{
		Program:     program,
		Points:      machine.ValidProbes(probes),
		Granularity: granularity,
	}
	b, err := plugin.Generate(m.Snapshot())
	if err != nil {
		return fmt.Errorf("plugin %s: %w", plugin.Name(), err)
	}
	err = m.Load(b)
	if err != nil {
		return err
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".leveled" + filepath.Ext(src)
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, gcode.NewBuffer(&gcode.BlocksReader{Blocks: b}))
	if err != nil {
		return err
	}
	a.log.Info("leveled program loaded", "file", src, "saved", dst, "blocks", len(b))

	rel, err := filepath.Rel(a.dataDir, dst)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]interface{}{
		"blocks": len(b),
		"file":   path.Join("/data", filepath.ToSlash(rel)),
	})
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		a.log.Error("create", "file", name, "err", err)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		a.log.Error("write", "file", name, "err", err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		a.log.Error("delete", "file", name, "err", err)
		http.Error(w, err.Error(), 500)
		return
	}
}
