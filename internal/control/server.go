package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/zuz-pm/zuzpm/internal/worker"
)

// Server accepts connections on a local socket and dispatches each
// line of client input to the Supervisor. One goroutine per
// connection; all work within a connection happens on that goroutine
// except the logs stream, which fans out via the target worker's own
// Subscribe.
type Server struct {
	sup      supervisorAPI
	logger   *slog.Logger
	socket   string
	listener net.Listener

	mu      sync.Mutex
	closing bool
}

// supervisorAPI is the subset of *supervisor.Supervisor the control
// server depends on, kept narrow so tests can fake it without the full
// worker/process machinery.
type supervisorAPI interface {
	Start(cfg worker.Config) error
	Stop(name string) error
	Restart(name string) error
	Delete(name string) error
	GetStats(name string) ([]worker.Stats, error)
	List() []string
	StopAll() error
	Subscribe(name string) (<-chan worker.LogLine, func(), error)
	StoreRecords() []interface{}
}

// New constructs a Server listening on socket once Serve is called. Serve,
// not New, unlinks any stale socket file at the path before listening.
func New(sup supervisorAPI, socket string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{sup: sup, socket: socket, logger: logger}
}

// Serve removes any stale socket file, binds, and accepts connections
// until Close is called. Blocks until the listener is closed.
func (s *Server) Serve() error {
	ln, err := listen(s.socket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socket, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("control server listening", "socket", s.socket)
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			s.logger.Error("accept", "error", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and unlinks the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	_ = os.Remove(s.socket)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(fail("Invalid JSON"))
			continue
		}
		if req.Cmd == "logs" {
			s.streamLogs(conn, enc, req)
			return
		}
		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("write response", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "ping":
		return ok("pong")
	case "start":
		return s.handleStart(req)
	case "stop":
		return s.handleRouted(req, s.sup.Stop)
	case "restart":
		return s.handleRouted(req, s.sup.Restart)
	case "delete":
		return s.handleRouted(req, s.sup.Delete)
	case "stats":
		return s.handleStats(req)
	case "list":
		return ok(s.sup.List())
	case "stopAll", "stop-all":
		if err := s.sup.StopAll(); err != nil {
			return fail(err.Error())
		}
		return ok("stopped all")
	case "get-store":
		return ok(s.sup.StoreRecords())
	default:
		return fail("unknown command: " + req.Cmd)
	}
}

func (s *Server) handleStart(req Request) Response {
	var p startParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return fail("invalid start params: " + err.Error())
	}
	var cfg worker.Config
	if len(p.Config) > 0 {
		if err := json.Unmarshal(p.Config, &cfg); err != nil {
			return fail("invalid config: " + err.Error())
		}
	}
	if cfg.Name == "" {
		cfg.Name = p.Name
	}
	if cfg.Name == "" {
		return fail("name required")
	}
	if err := s.sup.Start(cfg); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("started %s", cfg.Name))
}

func (s *Server) handleRouted(req Request, fn func(string) error) Response {
	var p nameParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return fail("invalid params: " + err.Error())
		}
	}
	if p.Name == "" {
		return fail("name required")
	}
	if err := fn(p.Name); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("%s: %s", req.Cmd, p.Name))
}

func (s *Server) handleStats(req Request) Response {
	var p nameParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return fail("invalid params: " + err.Error())
		}
	}
	stats, err := s.sup.GetStats(p.Name)
	if err != nil {
		return fail(err.Error())
	}
	return ok(stats)
}

// streamLogs attaches to the target worker(s)' log fan-out and forwards
// lines as {ok:true,data} frames until the client disconnects, then
// unsubscribes. No further responses are written on this connection
// after streaming begins.
func (s *Server) streamLogs(conn net.Conn, enc *json.Encoder, req Request) {
	var p nameParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &p)
	}

	names := []string{p.Name}
	if p.Name == "" {
		names = s.sup.List()
	}

	type subscription struct {
		name  string
		ch    <-chan worker.LogLine
		unsub func()
	}
	var subs []subscription
	for _, n := range names {
		ch, unsub, err := s.sup.Subscribe(n)
		if err != nil {
			continue
		}
		subs = append(subs, subscription{name: n, ch: ch, unsub: unsub})
	}
	defer func() {
		for _, sub := range subs {
			sub.unsub()
		}
	}()

	if len(subs) == 0 {
		_ = enc.Encode(fail("no matching worker"))
		return
	}

	merged := make(chan worker.LogLine, 256)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			for {
				select {
				case line, okCh := <-sub.ch:
					if !okCh {
						return
					}
					select {
					case merged <- line:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(sub)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	// Detect client disconnect by attempting to read; any read error
	// (including EOF) ends the stream.
	go func() {
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
		close(done)
	}()

	for {
		select {
		case line, okCh := <-merged:
			if !okCh {
				return
			}
			payload := fmt.Sprintf("[%s] %s", line.Worker, string(line.Data))
			if err := enc.Encode(ok(payload)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
