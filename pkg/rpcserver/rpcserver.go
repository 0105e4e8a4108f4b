// Package rpcserver is the JSON-RPC 2.0 HTTP surface of the Prover core
// (spec.md section 6): `report()`, `prove(batchId, blocks)`, and the
// dev-only `mock(from,to)`/`validate(from,count)` pair. Grounded on the
// teacher's pkg/server handler idiom (writeJSONError, a method guard,
// one handler per concern) adapted to a single JSON-RPC 2.0 endpoint
// rather than the teacher's many REST routes, since spec.md section 6
// names "JSON-RPC (HTTP, POST, one request per body)" as the transport.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/certen/sgx-prover/pkg/errs"
	"github.com/certen/sgx-prover/pkg/metrics"
	"github.com/certen/sgx-prover/pkg/prover"
	"github.com/certen/sgx-prover/pkg/rollup"
)

// request is a JSON-RPC 2.0 request body.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// response is a JSON-RPC 2.0 response body; exactly one of Result/Error
// is populated.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// rpcError carries the error-kind tag of spec.md section 7 in Data so a
// caller can branch on category without string-matching Message.
type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// Server exposes the Prover core over JSON-RPC. DevMode gates `mock` and
// `validate`, which spec.md section 6 marks "(dev only)".
type Server struct {
	core    *prover.Core
	devMode bool
	metrics *metrics.Metrics
	logger  *log.Logger

	mux *http.ServeMux
}

// New builds a Server. It does not bound request size itself;
// cmd/sgx-prover wraps Handler in http.MaxBytesHandler for the config
// key server.body_limit.
func New(core *prover.Core, devMode bool, m *metrics.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[rpcserver] ", log.LstdFlags)
	}
	s := &Server{core: core, devMode: devMode, metrics: m, logger: logger}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/", s.handle)
	return s
}

// Handler returns the http.Handler to mount on an *http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeJSONError(w, nil, codeInvalidRequest, "method not allowed", nil)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, nil, codeParseError, "invalid JSON-RPC request body", nil)
		return
	}

	result, err := s.dispatch(r.Context(), req.Method, req.Params)
	if err != nil {
		s.writeErr(w, req.ID, err)
		return
	}

	json.NewEncoder(w).Encode(response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "report":
		return s.report(), nil
	case "prove":
		return s.prove(ctx, params)
	case "mock":
		if !s.devMode {
			return nil, errs.New(errs.Internal, "rpcserver.mock", fmt.Errorf("method not found"))
		}
		return s.mock(ctx, params)
	case "validate":
		if !s.devMode {
			return nil, errs.New(errs.Internal, "rpcserver.validate", fmt.Errorf("method not found"))
		}
		return s.validate(ctx, params)
	default:
		return nil, errs.New(errs.Internal, "rpcserver.dispatch", fmt.Errorf("method not found: %s", method))
	}
}

// reportResult is report()'s JSON shape: quote/pubkey/signature as hex.
type reportResult struct {
	Quote     hexutil.Bytes `json:"quote"`
	PubKey    hexutil.Bytes `json:"pubkey"`
	Signature hexutil.Bytes `json:"signature"`
}

func (s *Server) report() reportResult {
	r := s.core.Report()
	return reportResult{Quote: r.Quote, PubKey: r.PubKey[:], Signature: r.Signature[:]}
}

// poeResult is prove()/mock()'s JSON shape.
type poeResult struct {
	BatchHash      hexutil.Bytes `json:"batchHash"`
	StateHash      hexutil.Bytes `json:"stateHash"`
	PrevStateRoot  hexutil.Bytes `json:"prevStateRoot"`
	NewStateRoot   hexutil.Bytes `json:"newStateRoot"`
	WithdrawalRoot hexutil.Bytes `json:"withdrawalRoot"`
	Signature      hexutil.Bytes `json:"signature"`
}

func toPoeResult(r *rollup.Report) poeResult {
	return poeResult{
		BatchHash:      r.BatchHash[:],
		StateHash:      r.StateHash[:],
		PrevStateRoot:  r.PrevStateRoot[:],
		NewStateRoot:   r.NewStateRoot[:],
		WithdrawalRoot: r.WithdrawalRoot[:],
		Signature:      r.Signature[:],
	}
}

type proveParams struct {
	BatchID uint64        `json:"batchId"`
	Blocks  hexutil.Bytes `json:"blocks"`
}

func (s *Server) prove(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p proveParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.New(errs.Internal, "rpcserver.prove", fmt.Errorf("invalid params: %w", err))
	}
	w, err := rollup.DecodeWitness(p.Blocks)
	if err != nil {
		return nil, errs.New(errs.WitnessIncomplete, "rpcserver.prove", fmt.Errorf("decode blocks: %w", err))
	}
	report, err := s.core.Prove(ctx, p.BatchID, w)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ProveFailures.WithLabelValues(string(errs.KindOf(err))).Inc()
		}
		return nil, err
	}
	return toPoeResult(report), nil
}

type mockParams struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

func (s *Server) mock(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p mockParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.New(errs.Internal, "rpcserver.mock", fmt.Errorf("invalid params: %w", err))
	}
	report, err := s.core.ProveRange(ctx, p.From, p.From, p.To)
	if err != nil {
		return nil, err
	}
	return toPoeResult(report), nil
}

type validateParams struct {
	From  uint64 `json:"from"`
	Count uint64 `json:"count"`
}

type validateResult struct {
	Checked uint64   `json:"checked"`
	OK      bool     `json:"ok"`
	Errors  []string `json:"errors,omitempty"`
}

// validate is a dev-only sanity loop exercising the determinism property
// of spec.md section 8 ("identical input yields byte-identical PoE"): it
// re-proves each block in [from, from+count) twice via ProveRange and
// flags any batch whose two PoEs disagree.
func (s *Server) validate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p validateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.New(errs.Internal, "rpcserver.validate", fmt.Errorf("invalid params: %w", err))
	}

	result := validateResult{OK: true}
	for n := p.From; n < p.From+p.Count; n++ {
		first, err := s.core.ProveRange(ctx, n, n, n)
		if err != nil {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("block %d: %v", n, err))
			continue
		}
		second, err := s.core.ProveRange(ctx, n, n, n)
		if err != nil {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("block %d (repeat): %v", n, err))
			continue
		}
		if *first != *second {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("block %d: non-deterministic PoE", n))
		}
		result.Checked++
	}
	return result, nil
}

func (s *Server) writeErr(w http.ResponseWriter, id json.RawMessage, err error) {
	kind := errs.KindOf(err)
	if s.metrics != nil {
		s.metrics.RPCErrorsByKind.WithLabelValues(string(kind)).Inc()
	}
	s.logger.Printf("rpc error (kind=%s): %v", kind, err)
	writeJSONError(w, id, codeServerError, err.Error(), map[string]string{"kind": string(kind)})
}

func writeJSONError(w http.ResponseWriter, id json.RawMessage, code int, message string, data interface{}) {
	json.NewEncoder(w).Encode(response{
		JSONRPC: "2.0",
		Error:   &rpcError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
