// Command mock-gateway is a stand-in payment provider for local
// development. It authorizes everything by default; failure modes are
// injected with flags to exercise the client's retry behavior.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type server struct {
	failRate    float64
	declineRate float64
	latency     time.Duration

	mu         sync.Mutex
	authorized map[string]bool
}

type authorizeRequest struct {
	OrderID       int64  `json:"orderId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
}

type voidRequest struct {
	AuthorizationID string `json:"authorizationId"`
}

func main() {
	var (
		addr        string
		failRate    float64
		declineRate float64
		latency     time.Duration
	)

	flag.StringVar(&addr, "addr", "0.0.0.0:9090", "listen address")
	flag.Float64Var(&failRate, "fail-rate", 0, "fraction of requests answered with 503")
	flag.Float64Var(&declineRate, "decline-rate", 0, "fraction of authorizations declined with 402")
	flag.DurationVar(&latency, "latency", 0, "artificial delay per request")
	flag.Parse()

	s := &server{
		failRate:    failRate,
		declineRate: declineRate,
		latency:     latency,
		authorized:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authorize", s.handleAuthorize)
	mux.HandleFunc("POST /void", s.handleVoid)

	slog.Info("mock gateway listening",
		slog.String("addr", addr),
		slog.Float64("fail_rate", failRate),
		slog.Float64("decline_rate", declineRate),
	)

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (s *server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	time.Sleep(s.latency)

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if rand.Float64() < s.failRate {
		slog.Info("injected failure", slog.Int64("order_id", req.OrderID))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
		return
	}
	if rand.Float64() < s.declineRate {
		slog.Info("injected decline", slog.Int64("order_id", req.OrderID))
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "card declined"})
		return
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.authorized[id] = true
	s.mu.Unlock()

	slog.Info("authorized",
		slog.Int64("order_id", req.OrderID),
		slog.String("amount", req.Amount),
		slog.String("authorization_id", id),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"authorizationId": id,
		"status":          "AUTHORIZED",
	})
}

func (s *server) handleVoid(w http.ResponseWriter, r *http.Request) {
	time.Sleep(s.latency)

	var req voidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if rand.Float64() < s.failRate {
		slog.Info("injected void failure", slog.String("authorization_id", req.AuthorizationID))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
		return
	}

	s.mu.Lock()
	known := s.authorized[req.AuthorizationID]
	delete(s.authorized, req.AuthorizationID)
	s.mu.Unlock()

	if !known {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown authorization"})
		return
	}

	slog.Info("voided", slog.String("authorization_id", req.AuthorizationID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "VOIDED"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
