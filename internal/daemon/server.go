package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// RequestHandler handles incoming RPC requests for a single project root.
type RequestHandler interface {
	HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error)
	GetStatus() StatusResult
}

// HandlerFactory lazily builds (or looks up) the RequestHandler responsible
// for a given project root. The daemon process is long-lived and serves
// many projects over its lifetime, so handlers are created on first use and
// cached rather than eagerly constructed for every root the client sends.
type HandlerFactory func(rootPath string) (RequestHandler, error)

// Server listens on a Unix socket and routes RPC requests to the
// RequestHandler responsible for the request's project root.
type Server struct {
	socketPath string
	listener   net.Listener
	newHandler HandlerFactory
	started    time.Time

	mu         sync.Mutex
	shutdown   bool
	wg         sync.WaitGroup
	handlers   map[string]RequestHandler
	handlersMu sync.RWMutex
}

// NewServer creates a new server that listens on the given socket path.
// Handlers for individual project roots are obtained from newHandler on
// first request; pass a factory backed by the project manager so each
// root gets its own isolated index and embedder.
func NewServer(socketPath string, newHandler HandlerFactory) (*Server, error) {
	return &Server{
		socketPath: socketPath,
		newHandler: newHandler,
		handlers:   make(map[string]RequestHandler),
	}, nil
}

// handlerFor returns the cached handler for rootPath, creating one via the
// configured factory if this is the first request for that root.
func (s *Server) handlerFor(rootPath string) (RequestHandler, error) {
	s.handlersMu.RLock()
	h, ok := s.handlers[rootPath]
	s.handlersMu.RUnlock()
	if ok {
		return h, nil
	}

	if s.newHandler == nil {
		return nil, fmt.Errorf("no handler factory configured")
	}

	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if h, ok := s.handlers[rootPath]; ok {
		return h, nil
	}
	h, err := s.newHandler(rootPath)
	if err != nil {
		return nil, err
	}
	s.handlers[rootPath] = h
	return h, nil
}

// ProjectsLoaded reports how many distinct project roots currently have a
// live handler.
func (s *Server) ProjectsLoaded() int {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return len(s.handlers)
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	// Clean up socket on exit
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon server listening", slog.String("socket", s.socketPath))

	// Handle shutdown
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Wait for active connections to finish
	s.wg.Wait()

	return ctx.Err()
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		slog.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the appropriate method handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())

	case MethodSearch:
		return s.handleSearch(ctx, req)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handleSearch decodes the request params, routes to the handler for the
// requested project root, and runs the search against it.
func (s *Server) handleSearch(ctx context.Context, req Request) Response {
	paramsData, err := json.Marshal(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params")
	}

	var params SearchParams
	if err := json.Unmarshal(paramsData, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}

	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	handler, err := s.handlerFor(params.RootPath)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeProjectNotIndexed, err.Error())
	}

	results, err := handler.HandleSearch(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeSearchFailed, err.Error())
	}

	return NewSuccessResponse(req.ID, results)
}

// getStatus aggregates status across every loaded project handler.
func (s *Server) getStatus() StatusResult {
	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		EmbedderType:   "static",
		EmbedderStatus: "ready",
		ProjectsLoaded: s.ProjectsLoaded(),
	}

	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	for _, h := range s.handlers {
		hs := h.GetStatus()
		status.EmbedderType = hs.EmbedderType
		status.EmbedderStatus = hs.EmbedderStatus
		if hs.EmbedderStatus != "ready" {
			// Surface the first non-ready project rather than the last one.
			break
		}
	}

	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
