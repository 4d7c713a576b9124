package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/execution"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse reports liveness and the latest cycle.
type HealthResponse struct {
	Status      string        `json:"status"`
	Version     string        `json:"version,omitempty"`
	Uptime      string        `json:"uptime"`
	LiveOrders  int           `json:"live_orders"`
	Decisions   int           `json:"decisions"`
	LastCycle   *time.Time    `json:"last_cycle,omitempty"`
	CycleTook   time.Duration `json:"cycle_duration_ns,omitempty"`
	Subscribers int           `json:"stream_subscribers"`
}

// CloseRequest is the optional body of a liquidation request.
type CloseRequest struct {
	Reason string `json:"reason"`
}

const defaultHistoryLimit = 50

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Orders != nil {
		resp.LiveOrders = len(s.deps.Orders.Active())
	}
	if s.deps.Decisions != nil {
		resp.Decisions = len(s.deps.Decisions.All())
	}
	if s.deps.Cycles != nil {
		if rep, ok := s.deps.Cycles.LastReport(); ok {
			started := rep.Started
			resp.LastCycle = &started
			resp.CycleTook = rep.Duration
		}
	}
	if s.deps.Events != nil {
		resp.Subscribers = s.deps.Events.Subscribers()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Decisions == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "decision cache not configured")
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.deps.Decisions.All())
}

func (s *Server) getDecision(w http.ResponseWriter, r *http.Request) {
	symbol := symbolVar(r)
	if s.deps.Decisions == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "decision cache not configured")
		return
	}
	d, ok := s.deps.Decisions.Get(symbol)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "not_found", "no decision for "+symbol)
		return
	}
	s.writeJSON(w, r, http.StatusOK, d)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "executor not configured")
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.deps.Orders.Active())
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	symbol := symbolVar(r)
	if s.deps.Orders == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "executor not configured")
		return
	}
	o, ok := s.deps.Orders.Get(symbol)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "not_found", "no live order for "+symbol)
		return
	}
	s.writeJSON(w, r, http.StatusOK, o)
}

func (s *Server) orderHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "order journal not enabled")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, r, http.StatusBadRequest, "bad_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	orders, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Order history query failed")
		s.writeError(w, r, http.StatusInternalServerError, "internal", "order history unavailable")
		return
	}
	s.writeJSON(w, r, http.StatusOK, orders)
}

func (s *Server) closeOrder(w http.ResponseWriter, r *http.Request) {
	symbol := symbolVar(r)
	if s.deps.Liquidator == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", "liquidation not configured")
		return
	}

	req := CloseRequest{Reason: "operator request"}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		if req.Reason == "" {
			req.Reason = "operator request"
		}
	}

	if err := s.deps.Liquidator.RequestLiquidation(symbol, req.Reason); err != nil {
		if errors.Is(err, execution.ErrNoActiveOrder) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "no live order for "+symbol)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	log.Info().Str("symbol", symbol).Str("reason", req.Reason).Msg("Liquidation requested over HTTP")
	s.writeJSON(w, r, http.StatusAccepted, map[string]string{"symbol": symbol, "status": "scheduled"})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, r, http.StatusNotFound, "not_found", "endpoint not found")
}

func symbolVar(r *http.Request) string {
	return strings.ToUpper(mux.Vars(r)["symbol"])
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.writeJSON(w, r, status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestID(r.Context()),
	})
}
