package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dsu/device"
	"dsu/locator"
	"dsu/queue"
)

// deviceResponse is the JSON rendering of a device.Summary.
type deviceResponse struct {
	Serial   string `json:"serial,omitempty"`
	Name     string `json:"name"`
	IP       string `json:"ip,omitempty"`
	Port     uint16 `json:"port"`
	Pinned   bool   `json:"pinned"`
	Progress int    `json:"progress"`
}

func toResponse(s device.Summary) deviceResponse {
	resp := deviceResponse{
		Serial: s.Serial, Name: s.Settings.Name, Port: s.Settings.Port,
		Pinned: s.Pinned, Progress: s.Progress,
	}
	if s.Settings.IP != nil {
		resp.IP = s.Settings.IP.String()
	}
	return resp
}

// cmdByName maps the JSON request's "code" field onto a locator.Cmd. An
// empty name means a raw (nil-code) ElUDP entry; an unrecognized name is
// rejected with 400.
var cmdByName = map[string]locator.Cmd{
	"SET_PRIMARY":    locator.CmdSetPrimary,
	"READ_SETTINGS":  locator.CmdReadSettings,
	"EXE_EL_CMD":     locator.CmdExeElCmd,
	"READ_MEM_PROP":  locator.CmdReadMemProp,
	"READ_MEM_DUMP":  locator.CmdReadMemDump,
	"GET_MAP":        locator.CmdGetMap,
	"GET_LOG":        locator.CmdGetLog,
	"CLEAR_LOG":      locator.CmdClearLog,
	"SET_USER":       locator.CmdSetUser,
	"GET_USER":       locator.CmdGetUser,
}

// commandRequest is the JSON body for POST /devices/{serial}/commands.
type commandRequest struct {
	Code      string `json:"code"`             // LocatorCmd name, or "" for raw ElUDP
	Pack      string `json:"pack"`             // hex-encoded payload
	TimeoutMS int    `json:"timeout_ms"`       // 0 means the queue default
	Run       bool   `json:"run"`              // true also starts the queue immediately
}

// newRouter builds the chi router. Mutating routes (commands, run, stop) are
// gated behind requireAuth when s.cfg.AuthEnabled.
func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()

	if s.auth != nil {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	}

	r.Get("/devices", s.handleListDevices)
	r.Get("/events", s.handleSSE)

	r.Route("/devices/{serial}", func(r chi.Router) {
		r.Get("/queue", s.handleQueueStatus)
		r.With(s.requireAuth).Post("/commands", s.handleAppendCommand)
		r.With(s.requireAuth).Post("/run", s.handleRunQueue)
		r.With(s.requireAuth).Post("/stop", s.handleStopQueue)
	})

	return r
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snapshot := s.inv.Snapshot()
	out := make([]deviceResponse, len(snapshot))
	for i, d := range snapshot {
		out[i] = toResponse(d)
	}
	s.writeJSON(w, out)
}

func (s *Server) findDevice(serial string) *device.Device {
	for _, d := range s.inv.Devices() {
		if d.SerialStr() == serial {
			return d
		}
	}
	return nil
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	dev := s.findDevice(serial)
	if dev == nil {
		s.writeErr(w, http.StatusNotFound, "no such device: %s", serial)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"serial":   dev.SerialStr(),
		"len":      dev.Queue.Len(),
		"progress": dev.Queue.Progress(),
	})
}

func (s *Server) handleAppendCommand(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	dev := s.findDevice(serial)
	if dev == nil {
		s.writeErr(w, http.StatusNotFound, "no such device: %s", serial)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, "decode body: %v", err)
		return
	}

	pack, err := hex.DecodeString(req.Pack)
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, "pack is not valid hex: %v", err)
		return
	}

	entry := &queue.Entry{Pack: pack}
	if req.Code != "" {
		code, ok := cmdByName[req.Code]
		if !ok {
			s.writeErr(w, http.StatusBadRequest, "unknown code: %s", req.Code)
			return
		}
		entry.Code = &code
	}
	if req.TimeoutMS > 0 {
		entry.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	dev.Queue.Append(entry)

	if req.Run {
		dev.Queue.Run()
	}
	s.writeJSON(w, map[string]interface{}{"accepted": true, "queue_len": dev.Queue.Len()})
}

func (s *Server) handleRunQueue(w http.ResponseWriter, r *http.Request) {
	dev := s.findDevice(chi.URLParam(r, "serial"))
	if dev == nil {
		s.writeErr(w, http.StatusNotFound, "no such device")
		return
	}
	dev.Queue.Run()
	s.writeJSON(w, map[string]interface{}{"running": true})
}

func (s *Server) handleStopQueue(w http.ResponseWriter, r *http.Request) {
	dev := s.findDevice(chi.URLParam(r, "serial"))
	if dev == nil {
		s.writeErr(w, http.StatusNotFound, "no such device")
		return
	}
	dev.Queue.Stop()
	s.writeJSON(w, map[string]interface{}{"stopped": true})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
