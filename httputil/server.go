// Copyright (c) 2025 BVK Chaitanya

// Package httputil implements a http server with dynamically adjustable
// handlers.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Server struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	opts Options

	mux atomic.Pointer[http.ServeMux]

	mutex      sync.Mutex
	handlerMap map[string]http.Handler
	serverMap  map[int64]*http.Server

	nextServerID atomic.Int64
}

// New creates a http server. The server holds no listeners until StartTCP is
// called.
func New(opts *Options) (*Server, error) {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Server{
		ctx:        ctx,
		cancel:     cancel,
		opts:       *opts,
		handlerMap: make(map[string]http.Handler),
		serverMap:  make(map[int64]*http.Server),
	}
	s.updateHandlerMux()
	return s, nil
}

func (s *Server) Close() error {
	s.cancel(os.ErrClosed)

	s.mutex.Lock()
	servers := make([]*http.Server, 0, len(s.serverMap))
	for _, svr := range s.serverMap {
		servers = append(servers, svr)
	}
	s.serverMap = make(map[int64]*http.Server)
	s.mutex.Unlock()

	for _, svr := range servers {
		svr.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) sleep(d time.Duration) error {
	select {
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	case <-time.After(d):
		return nil
	}
}

// StartTCP starts listening on the given address. When the port is zero, a
// free port is picked and written back into the addr. The returned id can be
// passed to Stop to close only this listener.
func (s *Server) StartTCP(ctx context.Context, addr *net.TCPAddr) (id int64, status error) {
	l, err := net.Listen("tcp", addr.String())
	if err != nil {
		return -1, err
	}
	defer func() {
		if status != nil {
			l.Close()
		}
	}()

	if addr.Port == 0 {
		laddr, ok := l.Addr().(*net.TCPAddr)
		if !ok {
			return -1, fmt.Errorf("created listener addr is not *net.TCPAddr type")
		}
		addr.Port = laddr.Port
	}

	testPath := "/" + uuid.New().String()
	testHandler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		log.Printf("%s: received test request from %q", addr, r.RemoteAddr)
	})
	s.AddHandler(testPath, testHandler)
	defer s.RemoveHandler(testPath)

	server := &http.Server{
		Handler: s,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	defer func() {
		if status != nil {
			server.Close()
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := server.Serve(l); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "http server failed", "err", err)
			}
		}
	}()

	c := http.Client{
		Timeout: s.opts.ServerCheckTimeout,
	}
	u := url.URL{
		Scheme: "http",
		Host:   l.Addr().String(),
		Path:   testPath,
	}

	tctx, tcancel := context.WithTimeout(ctx, s.opts.ServerCheckTimeout)
	defer tcancel()

	for tctx.Err() == nil {
		r, err := http.NewRequestWithContext(tctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return -1, err
		}
		resp, err := c.Do(r)
		if err != nil {
			s.sleep(s.opts.ServerCheckRetryInterval)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			continue
		}
		break
	}
	if err := context.Cause(tctx); err != nil {
		return -1, fmt.Errorf("could not invoke test handler: %w", err)
	}

	id = s.nextServerID.Add(1) - 1
	s.mutex.Lock()
	s.serverMap[id] = server
	s.mutex.Unlock()
	return id, nil
}

func (s *Server) Stop(id int64) error {
	s.mutex.Lock()
	svr, ok := s.serverMap[id]
	delete(s.serverMap, id)
	s.mutex.Unlock()

	if !ok {
		return fmt.Errorf("http server %d not found: %w", id, os.ErrNotExist)
	}
	return svr.Close()
}

func (s *Server) AddHandler(pattern string, handler http.Handler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.handlerMap[pattern] = handler
	s.updateHandlerMux()
}

func (s *Server) RemoveHandler(pattern string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.handlerMap[pattern]; !ok {
		return false
	}
	delete(s.handlerMap, pattern)
	s.updateHandlerMux()
	return true
}

func (s *Server) updateHandlerMux() {
	m := http.NewServeMux()
	for k, v := range s.handlerMap {
		m.Handle(k, v)
	}
	s.mux.Store(m)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.Load().ServeHTTP(w, r)
}

// PostJSONHandler adapts a typed request/response function into an
// http.Handler accepting JSON POST requests.
func PostJSONHandler[REQ, RESP any](fn func(context.Context, *REQ) (*RESP, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		req := new(REQ)
		if err := jsonDecode(r, req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, os.ErrNotExist):
				status = http.StatusNotFound
			case errors.Is(err, os.ErrExist):
				status = http.StatusConflict
			case errors.Is(err, os.ErrInvalid):
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := jsonEncode(w, resp); err != nil {
			slog.Error("could not write json response", "path", r.URL.Path, "err", err)
		}
	})
}
