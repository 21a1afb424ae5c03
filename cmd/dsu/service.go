package main

import (
	"fmt"
	"sync"
	"time"

	"dsu/bus"
	"dsu/config"
	"dsu/device"
	"dsu/eludp"
	"dsu/inventory"
	"dsu/locator"
	"dsu/logging"
	"dsu/queue"
	"dsu/seed"
	"dsu/store"
	"dsu/telemetry"

	"dsu/api"
)

// queueProgressInterval is how often the service samples every live
// device's command queue progress for the §4.10 progress gauge.
const queueProgressInterval = 2 * time.Second

// service wires every core and ambient component together into one running
// instance, the way the teacher's cmd/ entrypoints assemble their own
// driver/engine/api stack. It is shared by the serve, discover, push-fw and
// watch subcommands at different levels of completeness.
type service struct {
	cfg *config.Config

	debugLog *logging.DebugLogger
	sessLog  *logging.FileLogger

	loc    *locator.Transport
	el     *eludp.Transport
	sender *transportSender

	inv *inventory.Inventory

	metrics *telemetry.Metrics
	audit   *store.Store
	busMgr  *bus.Manager
	apiSrv  *api.Server

	elSubID      int
	metricsSubID int
	sessLogSubID int

	elCallbacksMu sync.Mutex
	elCallbacks   map[*device.Device]eludp.Callback

	progressDone chan struct{}
	progressWG   sync.WaitGroup
}

// newService builds every component without starting any goroutines or
// sockets. Call start to bring it up.
func newService(cfg *config.Config) (*service, error) {
	s := &service{cfg: cfg, elCallbacks: make(map[*device.Device]eludp.Callback)}

	if cfg.Logging.DebugLogPath != "" {
		dl, err := logging.NewDebugLogger(cfg.Logging.DebugLogPath)
		if err != nil {
			return nil, fmt.Errorf("service: open debug log: %w", err)
		}
		if len(cfg.Logging.Filters) > 0 {
			dl.SetFilter(joinFilters(cfg.Logging.Filters))
		}
		logging.SetGlobalDebugLogger(dl)
		s.debugLog = dl
	}
	if cfg.Logging.SessionLogPath != "" {
		sl, err := logging.NewFileLogger(cfg.Logging.SessionLogPath)
		if err != nil {
			return nil, fmt.Errorf("service: open session log: %w", err)
		}
		s.sessLog = sl
	}

	s.el = eludp.New(s.logf)
	s.sender = newTransportSender(nil, s.el)

	s.inv = inventory.New(s.sender, func() []locator.Iface { return s.loc.Interfaces() }, s.logf)
	s.loc = locator.New(s.inv, s.logf)
	s.sender.loc = s.loc

	s.metrics = telemetry.NewMetrics()
	s.metrics.Subscribe(s.inv.Bus())

	if cfg.Store.Enabled {
		path := cfg.Store.Path
		if path == "" {
			path = "dsu-audit.db"
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("service: open audit store: %w", err)
		}
		st.Subscribe(s.inv.Bus())
		s.audit = st
	}

	s.busMgr = bus.NewManager(cfg.Bus, s.inv.Bus(), s.logf)

	if cfg.API.Enabled {
		s.apiSrv = api.NewServer(s.inv, &cfg.API, s.logf)
	}

	return s, nil
}

func joinFilters(filters []string) string {
	out := ""
	for i, f := range filters {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

func (s *service) logf(format string, args ...interface{}) {
	if s.debugLog != nil {
		s.debugLog.Log("service", format, args...)
	}
	if s.sessLog != nil {
		s.sessLog.Log(format, args...)
	}
}

// bindElUDP wires the ElUDP transport's receive path onto the inventory's
// device lifecycle: every device the inventory appends gets its own ElUDP
// socket bound so raw (nil-code) queue responses reach its Queue, and
// devices removed from the inventory get unbound, per §4.3. The bound
// callback closure is kept per-device so the eventual Unbind call passes
// back the exact same Callback value it was registered with; eludp matches
// callbacks by their code pointer (see eludp's sameFunc).
func (s *service) bindElUDP() {
	s.elSubID = s.inv.Bus().SubscribeTypes(func(e inventory.Event) {
		dev, ok := e.Device.(*device.Device)
		if !ok || dev == nil {
			return
		}
		switch e.Type {
		case inventory.EventAppendDev:
			addr := dev.Addr()
			if addr == nil {
				return
			}
			cb := func(payload []byte) { dev.Queue.HandleResponse(nil, payload) }
			s.elCallbacksMu.Lock()
			s.elCallbacks[dev] = cb
			s.elCallbacksMu.Unlock()
			if err := s.el.Bind(addr, cb); err != nil {
				s.logf("service: eludp bind %s failed: %v", addr, err)
			}
		case inventory.EventRemoveDev:
			addr := dev.Addr()
			if addr == nil {
				return
			}
			s.elCallbacksMu.Lock()
			cb, ok := s.elCallbacks[dev]
			delete(s.elCallbacks, dev)
			s.elCallbacksMu.Unlock()
			if ok {
				s.el.Unbind(addr, cb)
			}
		}
	}, inventory.EventAppendDev, inventory.EventRemoveDev)
}

// bindQueueMetrics wires each device's command queue to the telemetry
// package's §4.10 per-outcome counter and per-device progress gauge: every
// device the inventory appends gets a queue-level callback recording its
// terminal outcome, and a removed device's progress series is dropped so
// /metrics doesn't accumulate stale labels. A subcommand (push-fw) that
// installs its own queue.QueueCallback for its own flow is expected to
// record the outcome itself too, the same way it overrides the callback
// installed here.
func (s *service) bindQueueMetrics() {
	s.metricsSubID = s.inv.Bus().SubscribeTypes(func(e inventory.Event) {
		dev, ok := e.Device.(*device.Device)
		if !ok || dev == nil {
			return
		}
		switch e.Type {
		case inventory.EventAppendDev:
			dev.Queue.SetCallback(func(outcome queue.Outcome) {
				s.metrics.RecordQueueOutcome(outcome.String())
			})
		case inventory.EventRemoveDev:
			s.metrics.DeleteQueueProgress(deviceMetricLabel(dev))
		}
	}, inventory.EventAppendDev, inventory.EventRemoveDev)
}

// bindSessionLog subscribes the session log to every inventory event, so
// the human-readable session log carries the same device lifecycle record
// the debug log and telemetry bridge see, each line tagged with the
// device and event type via FileLogger.LogDeviceEvent.
func (s *service) bindSessionLog() {
	s.sessLogSubID = s.inv.Bus().Subscribe(func(e inventory.Event) {
		dev, _ := e.Device.(*device.Device)
		label := ""
		if dev != nil {
			label = deviceMetricLabel(dev)
		}
		switch e.Type {
		case inventory.EventConFail:
			s.sessLog.LogDeviceEvent(e.Type.String(), label, "watchdog expired")
		case inventory.EventCmdResponse:
			s.sessLog.LogDeviceEvent(e.Type.String(), label, "command response, %d byte payload", len(e.Pack))
		default:
			s.sessLog.LogDeviceEvent(e.Type.String(), label, "observed")
		}
	})
}

// deviceMetricLabel identifies dev in telemetry label values: its serial
// when discovered, or its address for a unicast-only seeded device.
func deviceMetricLabel(dev *device.Device) string {
	if dev.HasSerial() {
		return dev.SerialStr()
	}
	if addr := dev.Addr(); addr != nil {
		return addr.String()
	}
	return "<unknown>"
}

// progressLoop periodically samples every live device's queue progress via
// PeekProgress (never disturbing a caller's own Progress() observation
// sequence) and publishes it to the telemetry gauge, until stopped.
func (s *service) progressLoop() {
	defer s.progressWG.Done()
	ticker := time.NewTicker(queueProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.progressDone:
			return
		case <-ticker.C:
			for _, dev := range s.inv.Devices() {
				s.metrics.SetQueueProgress(deviceMetricLabel(dev), dev.Queue.PeekProgress())
			}
		}
	}
}

// start brings up the transports, loads seeded devices, and starts the API
// server if configured. It does not block.
func (s *service) start() error {
	if err := s.loc.Start(); err != nil {
		return fmt.Errorf("service: start locator transport: %w", err)
	}
	s.bindElUDP()
	s.bindQueueMetrics()
	if s.sessLog != nil {
		s.bindSessionLog()
	}

	s.progressDone = make(chan struct{})
	s.progressWG.Add(1)
	go s.progressLoop()

	seedPath := s.cfg.Seed.Path
	if seedPath != "" {
		entries := seed.Load(seedPath)
		for _, dev := range seed.Devices(entries, s.sender) {
			s.inv.Append(dev)
		}
	}

	if s.apiSrv != nil {
		if err := s.apiSrv.Start(); err != nil {
			return fmt.Errorf("service: start api server: %w", err)
		}
	}

	return nil
}

// stop tears everything down in the reverse order it was started.
func (s *service) stop() {
	if s.apiSrv != nil {
		s.apiSrv.Stop()
	}
	close(s.progressDone)
	s.progressWG.Wait()
	s.busMgr.Close()
	s.inv.Bus().Unsubscribe(s.elSubID)
	s.inv.Bus().Unsubscribe(s.metricsSubID)
	if s.sessLog != nil {
		s.inv.Bus().Unsubscribe(s.sessLogSubID)
	}
	s.el.Close()
	s.loc.Shutdown()
	if s.audit != nil {
		s.audit.Close()
	}
	if s.debugLog != nil {
		s.debugLog.Close()
	}
	if s.sessLog != nil {
		s.sessLog.Close()
	}
}

// metricsAddr returns the Prometheus listener address, or "" if telemetry
// is disabled.
func (s *service) metricsAddr() string {
	if !s.cfg.Telemetry.Enabled {
		return ""
	}
	return s.cfg.Telemetry.Listen
}
