package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"NeuroVault/internal/access"
	"NeuroVault/internal/vault"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
)

// maxRequestBody caps a signed request envelope.
const maxRequestBody = 64 << 10

type signedCall func(*Service, context.Context, *access.SignedRequest) (*MutationResponse, error)

// Handler returns the HTTP/JSON surface: the vault routes on a gateway mux
// plus the health endpoints.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	marshaler := &runtime.JSONPb{}

	writeErr := func(w http.ResponseWriter, r *http.Request, err error) {
		runtime.HTTPError(r.Context(), mux, marshaler, w, r, toStatus(err).Err())
	}

	signed := map[string]signedCall{
		"/v1/initialize":              (*Service).Initialize,
		"/v1/deposit":                 (*Service).Deposit,
		"/v1/withdraw":                (*Service).Withdraw,
		"/v1/rebalance":               (*Service).Rebalance,
		"/v1/pause":                   pauseRoute(true),
		"/v1/unpause":                 pauseRoute(false),
		"/v1/emergency-pause":         (*Service).EmergencyPause,
		"/v1/limits/tvl-cap":          (*Service).SetTvlCap,
		"/v1/limits/user-deposit-cap": (*Service).SetUserDepositCap,
		"/v1/limits":                  (*Service).SetLimits,
		"/v1/assets":                  (*Service).ReportAssets,
		"/v1/upgrade":                 (*Service).Upgrade,
	}
	for path, call := range signed {
		path, call := path, call
		err := mux.HandlePath(http.MethodPost, path, s.observeHTTP(path, func(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
			var req access.SignedRequest
			body := http.MaxBytesReader(w, r.Body, maxRequestBody)
			if err := json.NewDecoder(body).Decode(&req); err != nil {
				return fmt.Errorf("%w: decode request: %v", vault.ErrInvalidInput, err)
			}
			resp, err := call(s.service, r.Context(), &req)
			if err != nil {
				return err
			}
			return writeJSON(w, resp)
		}, writeErr))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", path, err)
		}
	}

	reads := []struct {
		path string
		h    func(w http.ResponseWriter, r *http.Request, params map[string]string) error
	}{
		{"/v1/balance/{account}", func(w http.ResponseWriter, r *http.Request, params map[string]string) error {
			return respond[BalanceResponse](w)(s.service.GetBalance(r.Context(), &BalanceRequest{Account: params["account"]}))
		}},
		{"/v1/total-deposits", func(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
			return respond[TotalDepositsResponse](w)(s.service.GetTotalDeposits(r.Context(), &Empty{}))
		}},
		{"/v1/agent", func(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
			return respond[AgentResponse](w)(s.service.GetAgent(r.Context(), &Empty{}))
		}},
		{"/v1/paused", func(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
			return respond[PausedResponse](w)(s.service.IsPaused(r.Context(), &Empty{}))
		}},
		{"/v1/config", func(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
			return respond[ConfigResponse](w)(s.service.GetConfig(r.Context(), &Empty{}))
		}},
		{"/v1/events", func(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
			req, err := listEventsQuery(r)
			if err != nil {
				return err
			}
			return respond[ListEventsResponse](w)(s.service.ListEvents(r.Context(), req))
		}},
	}
	for _, rt := range reads {
		if err := mux.HandlePath(http.MethodGet, rt.path, s.observeHTTP(rt.path, rt.h, writeErr)); err != nil {
			return nil, fmt.Errorf("register %s: %w", rt.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// pauseRoute pins the pause flag to the route. The signed body must agree.
func pauseRoute(paused bool) signedCall {
	return func(svc *Service, ctx context.Context, req *access.SignedRequest) (*MutationResponse, error) {
		var body PausedBody
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: decode pause body: %v", vault.ErrInvalidInput, err)
		}
		if body.Paused != paused {
			return nil, fmt.Errorf("%w: body sets paused=%t on the wrong route", vault.ErrInvalidInput, body.Paused)
		}
		return svc.SetPaused(ctx, req)
	}
}

func listEventsQuery(r *http.Request) (*ListEventsRequest, error) {
	q := r.URL.Query()
	req := &ListEventsRequest{}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: after %q", vault.ErrInvalidInput, v)
		}
		req.After = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: limit %q", vault.ErrInvalidInput, v)
		}
		req.Limit = limit
	}
	return req, nil
}

func respond[T any](w http.ResponseWriter) func(*T, error) error {
	return func(resp *T, err error) error {
		if err != nil {
			return err
		}
		return writeJSON(w, resp)
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(b)
	return err
}

func (s *Server) observeHTTP(
	path string,
	h func(w http.ResponseWriter, r *http.Request, params map[string]string) error,
	writeErr func(w http.ResponseWriter, r *http.Request, err error),
) runtime.HandlerFunc {
	label := "HTTP " + path
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		code := codes.OK.String()
		if err := h(w, r, params); err != nil {
			c := Code(err)
			code = c.String()
			if c == codes.Internal {
				s.logger.Error().Str("route", path).Err(err).Msg("request failed")
			}
			writeErr(w, r, err)
		}
		if s.metrics != nil {
			s.metrics.APIRequests.WithLabelValues(label, code).Inc()
			s.metrics.APIDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		}
	}
}

// StartHTTPGateway serves the HTTP/JSON surface (blocking).
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
