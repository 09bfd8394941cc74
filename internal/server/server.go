// Package server is the core of the OPC bridge: it owns the registry of
// live USB devices, recognizes and provisions devices as they arrive,
// tracks hotplug (natively or by polling), and broadcasts decoded OPC
// messages to every matched device.
//
// Three execution contexts touch the registry: the OPC ingress
// goroutines delivering messages, hotplug delivery (native callbacks or
// the polling goroutine), and the main pump/flush loop. A single event
// lock serializes all of them; code holding it must never re-enter a
// method that takes it.
package server

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"opcbridge/device"
	"opcbridge/internal/config"
	"opcbridge/internal/opc"
	"opcbridge/usb"
)

// pollPeriod is the snapshot interval of the emulated-hotplug goroutine.
const pollPeriod = time.Second

// Server bridges OPC ingress to the live USB device set.
type Server struct {
	cfg       *config.ServerConfig
	transport usb.Transport
	families  []device.Registration
	sink      *opc.Sink
	logger    *slog.Logger

	// eventMu is the event lock: it guards reg and every device call
	// issued by the arrival/removal pipeline, broadcast and flush.
	eventMu sync.Mutex
	reg     registry
}

// New builds a Server. families is consulted in order during the
// pre-open probe; pass device.Families() for the registered set.
func New(cfg *config.ServerConfig, transport usb.Transport, families []device.Registration, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		transport: transport,
		families:  families,
		logger:    logger,
	}
	s.sink = opc.NewSink(s.HandleMessage, logger)
	return s
}

// Start wires the OPC ingress to the configured listen endpoint and
// installs hotplug tracking. Exactly one tracking strategy is selected:
// native events when the transport supports them, a polling goroutine
// otherwise.
func (s *Server) Start() error {
	if err := s.sink.Start(s.cfg.ListenAddr); err != nil {
		return err
	}
	if s.transport.HasHotplug() {
		if err := s.transport.RegisterHotplug(s.handleHotplug); err != nil {
			return err
		}
	} else {
		go s.hotplugPollLoop()
	}
	return nil
}

// Addr returns the bound OPC listen address.
func (s *Server) Addr() net.Addr {
	return s.sink.Addr()
}

// DeviceCount returns the number of registered devices.
func (s *Server) DeviceCount() int {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	return s.reg.len()
}

// HandleMessage is the OPC ingress callback. It broadcasts msg to every
// registered device; a concurrently arriving or leaving device is either
// fully included or fully excluded.
func (s *Server) HandleMessage(msg *opc.Message) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.reg.broadcast(msg)
}

// Run is the main pump: it processes pending transport events and then
// flushes every device, forever. Event-pump errors are an operational
// signal and are logged unconditionally, but never stop the loop. There
// is no termination condition; shutdown is process-exit driven.
func (s *Server) Run() {
	for {
		s.pumpOnce()
	}
}

func (s *Server) pumpOnce() {
	if err := s.transport.PumpEvents(); err != nil {
		s.logger.Error("error handling USB events", "error", err)
	}
	s.eventMu.Lock()
	s.reg.flush()
	s.eventMu.Unlock()
}

// handleHotplug adapts native transport events to the arrival/removal
// entry points, under the event lock.
func (s *Server) handleHotplug(ev usb.Event, h usb.Handle) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	switch ev {
	case usb.DeviceArrived:
		s.deviceArrived(h)
	case usb.DeviceLeft:
		s.deviceLeft(h)
	}
}

// deviceArrived runs the recognition pipeline for a newly observed
// handle: family probe, construct, open, post-open probe, configuration
// match. Every discard path closes the candidate before returning.
// Caller must hold the event lock.
func (s *Server) deviceArrived(h usb.Handle) {
	// The native path may redeliver an arrival for a handle we already
	// track (enumerate-on-subscribe plus long-lived registration).
	if s.reg.indexByID(h.ID()) >= 0 {
		return
	}

	var dev device.Device
	for _, f := range s.families {
		if f.Probe(h) {
			dev = f.New(h, device.Options{Verbose: s.cfg.Verbose, Logger: s.logger})
			break
		}
	}
	if dev == nil {
		// Not a device we recognize.
		return
	}

	if err := dev.Open(); err != nil {
		if usb.IsTransientOpenError(err) {
			s.logger.Debug("waiting for driver installation", "device", dev.Name(), "error", err)
		} else {
			s.logger.Debug("error opening device", "device", dev.Name(), "error", err)
		}
		dev.Close()
		return
	}

	if !dev.ProbeAfterOpening() {
		// The cheap probe guessed wrong; this isn't our device after all.
		dev.Close()
		return
	}

	for _, spec := range s.cfg.Devices {
		if dev.MatchConfiguration(spec) {
			dev.WriteColorCorrection(s.cfg.Color)
			s.reg.add(dev)
			s.logger.Debug("USB device attached", "device", dev.Name())
			return
		}
	}

	s.logger.Debug("USB device has no matching configuration", "device", dev.Name())
	dev.Close()
}

// deviceLeft removes the registered device with h's identity, if any.
// A handle we never kept is not an error. Caller must hold the event
// lock.
func (s *Server) deviceLeft(h usb.Handle) {
	i := s.reg.indexByID(h.ID())
	if i < 0 {
		return
	}
	s.logger.Debug("USB device removed", "device", s.reg.at(i).Name())
	s.reg.removeAt(i)
}

// hotplugPollLoop emulates hotplug by diffing periodic bus snapshots
// against the registry. An enumeration failure stops this goroutine only;
// the rest of the server keeps running.
func (s *Server) hotplugPollLoop() {
	for {
		if err := s.hotplugPoll(); err != nil {
			s.logger.Error("error polling for USB devices", "error", err)
			return
		}
		time.Sleep(pollPeriod)
	}
}

// hotplugPoll takes one bus snapshot and feeds the differences through
// the same entry points as native hotplug: arrivals are handles absent
// from the registry, departures are registry entries absent from the
// snapshot. The event lock is held for the whole diff+mutate step.
func (s *Server) hotplugPoll() error {
	handles, err := s.transport.Enumerate()
	if err != nil {
		return err
	}

	// Take the lock only after enumeration completes.
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	present := make(map[usb.DeviceID]bool, len(handles))
	for _, h := range handles {
		present[h.ID()] = true
	}

	for _, h := range handles {
		if s.reg.indexByID(h.ID()) < 0 {
			s.deviceArrived(h)
		}
	}

	for i := s.reg.len() - 1; i >= 0; i-- {
		if !present[s.reg.at(i).Handle().ID()] {
			s.logger.Debug("USB device removed", "device", s.reg.at(i).Name())
			s.reg.removeAt(i)
		}
	}
	return nil
}
