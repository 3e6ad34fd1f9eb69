// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package jsonrpc serves the consolidator commands over JSON-RPC 1.0 HTTP
// POST requests.
package jsonrpc

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
)

const (
	// maxRequestSize is the largest request body accepted.
	maxRequestSize = 1024 * 1024

	// rpcAuthTimeoutSeconds is the time a client has to send its
	// request.
	rpcAuthTimeoutSeconds = 10
)

// ErrNoAuth represents an error where authentication could not succeed
// due to a missing Authorization HTTP header.
var ErrNoAuth = errors.New("no auth")

// request is a JSON-RPC request. Params are kept raw so that methods can
// accept either positional or named parameters.
type request struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// Server holds the items the RPC server may need to access (auth,
// config, shutdown, etc.)
type Server struct {
	httpServer   http.Server
	consolidator Consolidator

	listeners []net.Listener
	authsha   [sha256.Size]byte

	wg      sync.WaitGroup
	quit    chan struct{}
	quitMtx sync.Mutex

	requestShutdownChan chan struct{}
}

// jsonAuthFail sends a message back to the client if the http auth is
// rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="consolidatord RPC"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

// NewServer creates a new server for serving RPC client connections over
// HTTP POST.
func NewServer(opts *Options, c Consolidator,
	listeners []net.Listener) *Server {

	serveMux := http.NewServeMux()

	server := &Server{
		httpServer: http.Server{
			Handler: serveMux,

			// Timeout connections which don't complete the initial
			// handshake within the allowed timeframe.
			ReadTimeout: time.Second * rpcAuthTimeoutSeconds,
		},
		consolidator: c,
		listeners:    listeners,
		// A hash of the HTTP basic auth string is used for a constant
		// time comparison.
		authsha: sha256.Sum256(
			httpBasicAuth(opts.Username, opts.Password),
		),
		quit:                make(chan struct{}),
		requestShutdownChan: make(chan struct{}, 1),
	}

	serveMux.Handle("/", throttled(opts.MaxPOSTClients,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Connection", "close")
			w.Header().Set("Content-Type", "application/json")
			r.Close = true

			if r.Method != http.MethodPost {
				http.Error(w, "405 Method Not Allowed.",
					http.StatusMethodNotAllowed)
				return
			}

			if err := server.checkAuthHeader(r); err != nil {
				log.Warnf("Unauthorized client connection attempt")
				jsonAuthFail(w)
				return
			}
			server.wg.Add(1)
			server.PostClientRPC(w, r)
			server.wg.Done()
		}),
	))

	return server
}

// Start serves requests on every listener.
func (s *Server) Start() {
	for _, lis := range s.listeners {
		s.serve(lis)
	}
}

// httpBasicAuth returns the UTF-8 bytes of the HTTP Basic authentication
// string:
//
//	"Basic " + base64(username + ":" + password)
func httpBasicAuth(username, password string) []byte {
	const header = "Basic "
	b64 := base64.StdEncoding

	b64InputLen := len(username) + len(":") + len(password)
	b64Input := make([]byte, 0, b64InputLen)
	b64Input = append(b64Input, username...)
	b64Input = append(b64Input, ':')
	b64Input = append(b64Input, password...)

	output := make([]byte, len(header)+b64.EncodedLen(b64InputLen))
	copy(output, header)
	b64.Encode(output[len(header):], b64Input)
	return output
}

// serve serves HTTP POST requests on the listener lis.  This function
// blocks until the listener is closed and should be run as a goroutine.
func (s *Server) serve(lis net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Infof("Listening on %s", lis.Addr())
		err := s.httpServer.Serve(lis)
		log.Tracef("Finished serving RPC: %v", err)
	}()
}

// Stop gracefully shuts down the rpc server by closing every listener and
// waiting for in-flight requests.
func (s *Server) Stop() {
	s.quitMtx.Lock()
	select {
	case <-s.quit:
		s.quitMtx.Unlock()
		return
	default:
	}

	// Stop all the listeners.
	for _, listener := range s.listeners {
		err := listener.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Errorf("Cannot close listener `%s`: %v",
				listener.Addr(), err)
		}
	}

	// Signal the remaining goroutines to stop.
	close(s.quit)
	s.quitMtx.Unlock()

	// Wait for all remaining goroutines to exit.
	s.wg.Wait()
}

// checkAuthHeader checks the HTTP Basic authentication supplied by a client
// in the HTTP request r.  It errors with ErrNoAuth if the request does not
// contain the Authorization header, or another non-nil error if the
// authentication was provided but incorrect.
//
// This check is time-constant.
func (s *Server) checkAuthHeader(r *http.Request) error {
	authhdr := r.Header["Authorization"]
	if len(authhdr) == 0 {
		return ErrNoAuth
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	cmp := subtle.ConstantTimeCompare(authsha[:], s.authsha[:])
	if cmp != 1 {
		return errors.New("bad auth")
	}
	return nil
}

// throttled wraps an http.Handler with throttling of concurrent active
// clients by responding with an HTTP 429 when the threshold is crossed.
func throttled(threshold int64, h http.Handler) http.Handler {
	var active int64

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt64(&active, 1)
		defer atomic.AddInt64(&active, -1)

		if current-1 >= threshold {
			log.Warnf("Reached threshold of %d concurrent active "+
				"clients", threshold)
			http.Error(w, "429 Too Many Requests",
				http.StatusTooManyRequests)
			return
		}

		h.ServeHTTP(w, r)
	})
}

// PostClientRPC processes and replies to a JSON-RPC client request.
func (s *Server) PostClientRPC(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestSize)
	rpcRequest, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "413 Request Too Large.",
			http.StatusRequestEntityTooLarge)
		return
	}

	var req request
	err = json.Unmarshal(rpcRequest, &req)
	if err != nil {
		s.respond(w, nil, nil, btcjson.ErrRPCParse)
		return
	}
	if req.Method == "" {
		s.respond(w, req.ID, nil, btcjson.ErrRPCInvalidRequest)
		return
	}

	// Two special cases are handled here: help needs the handler table
	// and stop shuts the process down after replying.
	var (
		res     interface{}
		jsonErr *btcjson.RPCError
		stop    bool
	)
	switch req.Method {
	case "stop":
		stop = true
		res = "consolidatord stopping"

	default:
		res, jsonErr = s.dispatch(r, &req)
	}

	s.respond(w, req.ID, res, jsonErr)

	if stop {
		s.requestProcessShutdown()
	}
}

// dispatch parses the params of req and runs its handler.
func (s *Server) dispatch(r *http.Request, req *request) (interface{},
	*btcjson.RPCError) {

	if req.Method == "help" {
		params, err := parseParams(req.Params, []string{"command"})
		if err != nil {
			return nil, jsonError(err)
		}
		res, err := help(params)

		return res, jsonError(err)
	}

	h, ok := rpcHandlers[req.Method]
	if !ok {
		return nil, &ErrMethodNotFound
	}

	params, err := parseParams(req.Params, h.params)
	if err != nil {
		return nil, jsonError(err)
	}

	log.Debugf("Handling %s request from %s", req.Method, r.RemoteAddr)

	res, err := h.handler(r.Context(), s.consolidator, params)
	if err != nil {
		log.Debugf("%s request failed: %v", req.Method, err)

		return nil, jsonError(err)
	}

	return res, nil
}

// respond marshals and writes a JSON-RPC 1.0 response.
func (s *Server) respond(w http.ResponseWriter, id interface{},
	res interface{}, jsonErr *btcjson.RPCError) {

	mresp, err := btcjson.MarshalResponse(
		btcjson.RpcVersion1, id, res, jsonErr,
	)
	if err != nil {
		log.Errorf("Unable to marshal response: %v", err)
		http.Error(w, "500 Internal Server Error",
			http.StatusInternalServerError)
		return
	}

	if _, err := w.Write(mresp); err != nil {
		log.Warnf("Unable to respond to client: %v", err)
	}
}

// requestProcessShutdown signals the process to shut down.  It never
// blocks.
func (s *Server) requestProcessShutdown() {
	select {
	case s.requestShutdownChan <- struct{}{}:
	default:
	}
}

// RequestProcessShutdown returns a channel that is sent to when an
// authorized client requests remote shutdown.
func (s *Server) RequestProcessShutdown() <-chan struct{} {
	return s.requestShutdownChan
}
