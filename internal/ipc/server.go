package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"codeberg.org/mutker/smartrefresh/internal/logger"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

type Server struct {
	path    string
	handler *Handler
	log     logger.Logger
	ln      net.Listener
	wg      sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// Listen binds the control socket at path, replacing a socket left behind
// by a previous run.
func Listen(path string, ctrl Controller) (*Server, error) {
	errFactory := errors.New()

	if err := removeStaleSocket(path); err != nil {
		return nil, errFactory.Wrap(ErrSocketBind, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errFactory.Wrap(ErrSocketBind, err)
	}

	s := &Server{
		path:    path,
		handler: NewHandler(ctrl),
		log:     logger.Component("ipc"),
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
	}
	s.log.Info().Str("socket", path).Msg("Control socket listening")

	return s, nil
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return errors.New().WithData(ErrSocketBind, path+" exists and is not a socket")
	}
	return os.Remove(path)
}

func (s *Server) Addr() string {
	return s.path
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			s.log.Warn().Err(err).Msg("Failed to accept connection")
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	id := uuid.New().String()
	s.log.Debug().Str("conn_id", id).Msg("Client connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestLineBytes)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.handler.Handle(ctx, line)

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := enc.Encode(resp); err != nil {
			s.log.Debug().Err(err).Str("conn_id", id).Msg("Failed to write response")
			return
		}
	}

	if err := scanner.Err(); err != nil && !s.isClosed() {
		s.log.Debug().Err(err).Str("conn_id", id).Msg("Connection read failed")
	}
	s.log.Debug().Str("conn_id", id).Msg("Client disconnected")
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, drops open connections, waits for their handlers
// and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.ln.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	s.log.Info().Str("socket", s.path).Msg("Control socket closed")

	return nil
}
