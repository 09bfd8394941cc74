package opc

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
)

// Sink listens for OPC clients and invokes a callback for every decoded
// frame. Each connection is read on its own goroutine; the callback is
// therefore invoked concurrently with respect to other connections and
// must do its own locking.
type Sink struct {
	cb     MessageFunc
	logger *slog.Logger
	ln     *net.TCPListener
}

// NewSink returns a Sink that delivers decoded messages to cb.
func NewSink(cb MessageFunc, logger *slog.Logger) *Sink {
	return &Sink{cb: cb, logger: logger}
}

// Start listens on addr and begins accepting clients.
func (s *Sink) Start(addr *net.TCPAddr) error {
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("OPC listening", "addr", ln.Addr())
	go s.serve()
	return nil
}

// Addr returns the bound listen address.
func (s *Sink) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting clients. Connections already being served drain
// on their own.
func (s *Sink) Close() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

func (s *Sink) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("OPC accept error", "error", err)
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Sink) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr()
	s.logger.Debug("OPC client connected", "remote", remote)

	r := bufio.NewReader(conn)
	for {
		msg, err := ReadMessage(r)
		if err != nil {
			if err == io.EOF {
				s.logger.Debug("OPC client disconnected", "remote", remote)
			} else {
				s.logger.Debug("OPC client read error", "remote", remote, "error", err)
			}
			return
		}
		s.cb(msg)
	}
}
