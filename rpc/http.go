package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payai/core"
	"payai/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	metricsModule   = "escrow"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeDuplicateTx    = -32010
	codeRateLimited    = -32020
)

// ServerConfig bounds per-client request admission. TrustedProxies lists the
// peer IPs allowed to report the client address through X-Forwarded-For.
type ServerConfig struct {
	RequestsPerMinute float64
	Burst             int
	TrustedProxies    []string
}

type Server struct {
	node    *core.Node
	logger  *slog.Logger
	limiter *rateLimiter
	proxies proxySet
	router  chi.Router
}

func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	proxies, rejected := newProxySet(cfg.TrustedProxies)
	for _, entry := range rejected {
		logger.Warn("ignoring invalid trusted proxy", slog.String("entry", entry))
	}
	s := &Server{
		node:    node,
		logger:  logger,
		limiter: newRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		proxies: proxies,
	}
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving JSON-RPC, health and metrics.
func (s *Server) Handler() http.Handler { return s.router }

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := ""
	defer func() {
		observability.ModuleMetrics().Observe(metricsModule, method, rec.status, time.Since(started))
	}()

	reader := http.MaxBytesReader(rec, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	rec.Header().Set("Content-Type", "application/json")

	source := s.proxies.clientSource(r)
	if !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle(metricsModule, "rate_limit")
		s.logger.Debug("rpc request throttled", slog.String("source", source))
		writeError(rec, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(rec, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(rec, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(rec, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	switch req.Method {
	case "escrow_submit":
		s.handleEscrowSubmit(rec, r, req)
	case "escrow_getGlobalState":
		s.handleEscrowGetGlobalState(rec, r, req)
	case "escrow_getBuyerCounter":
		s.handleEscrowGetBuyerCounter(rec, r, req)
	case "escrow_getContract":
		s.handleEscrowGetContract(rec, r, req)
	case "escrow_getContractAddress":
		s.handleEscrowGetContractAddress(rec, r, req)
	case "escrow_getBalance":
		s.handleEscrowGetBalance(rec, r, req)
	case "escrow_getFeeVault":
		s.handleEscrowGetFeeVault(rec, r, req)
	default:
		method = "unknown"
		writeError(rec, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
}
