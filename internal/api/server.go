// Package api serves the latest cycle to dashboards as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"arb-watch-go/arbitrage"
	"arb-watch-go/fees"
	"arb-watch-go/infrastructure/logger"
	"arb-watch-go/internal/store"
	"arb-watch-go/snapshot"
)

// Runner 手动触发一轮计算，engine 实现。
type Runner interface {
	RunOnce(ctx context.Context) (*snapshot.Cycle, error)
}

// Deps 服务依赖，Runner/Metrics 可为 nil。
type Deps struct {
	Store   *store.Store
	Fees    *fees.Table
	Runner  Runner
	Metrics http.Handler
	Logger  *logger.Logger
}

// Server 只读 API + 手动刷新。
type Server struct {
	router *mux.Router
	srv    *http.Server
	deps   Deps
	now    func() time.Time
}

// NewServer addr 为监听地址，例如 ":8080"。
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Fees == nil {
		deps.Fees = fees.New(nil)
	}
	s := &Server{router: mux.NewRouter(), deps: deps, now: time.Now}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler 供测试直接使用。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/prices", s.prices).Methods(http.MethodGet)
	api.HandleFunc("/spreads", s.spreads).Methods(http.MethodGet)
	api.HandleFunc("/edges", s.edges).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.summary).Methods(http.MethodGet)
	api.HandleFunc("/fees", s.feeLookup).Methods(http.MethodGet)
	api.HandleFunc("/cycles", s.cycles).Methods(http.MethodGet)
	api.HandleFunc("/cycles", s.runCycle).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Start 阻塞直到 Shutdown；正常关闭时返回 nil。
func (s *Server) Start() error {
	s.deps.Logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type ctxKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		id, _ := r.Context().Value(ctxKey{}).(string)
		s.deps.Logger.Debug("http_request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", s.now().Sub(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// latest 没有结果时直接写 503。
func (s *Server) latest(w http.ResponseWriter) (*snapshot.Cycle, bool) {
	c, ok := s.deps.Store.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no completed cycle yet")
		return nil, false
	}
	return c, true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]interface{}{"status": "ok", "cycles": s.deps.Store.Len()}
	if c, ok := s.deps.Store.Latest(); ok {
		resp["lastCycle"] = c.ID
		resp["lastCycleAt"] = c.Started.UTC()
		resp["ageSec"] = int64(s.now().Sub(c.Started).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

type pricesResponse struct {
	CycleID string            `json:"cycleId"`
	Started time.Time         `json:"started"`
	Prices  interface{}       `json:"prices"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (s *Server) prices(w http.ResponseWriter, _ *http.Request) {
	c, ok := s.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pricesResponse{CycleID: c.ID, Started: c.Started, Prices: c.Prices, Errors: c.Errors})
}

type spreadsResponse struct {
	CycleID string             `json:"cycleId"`
	Started time.Time          `json:"started"`
	Options arbitrage.Options  `json:"options"`
	Spreads []arbitrage.Result `json:"spreads"`
}

// spreads ?top=N 按毛价差取前 N 条，否则按 symbol 配置顺序。
func (s *Server) spreads(w http.ResponseWriter, r *http.Request) {
	c, ok := s.latest(w)
	if !ok {
		return
	}
	out := c.Spreads
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		out = arbitrage.TopByGross(out, n)
	}
	writeJSON(w, http.StatusOK, spreadsResponse{CycleID: c.ID, Started: c.Started, Options: c.Options, Spreads: out})
}

// edges ?symbol= 过滤，?best=true 每个 symbol 只留最优一对。
func (s *Server) edges(w http.ResponseWriter, r *http.Request) {
	c, ok := s.latest(w)
	if !ok {
		return
	}
	q := r.URL.Query()
	out := c.Edges
	if sym := strings.ToUpper(strings.TrimSpace(q.Get("symbol"))); sym != "" {
		filtered := make([]arbitrage.PairEdge, 0)
		for _, e := range out {
			if e.Symbol == sym {
				filtered = append(filtered, e)
			}
		}
		out = filtered
	}
	if best, _ := strconv.ParseBool(q.Get("best")); best {
		out = arbitrage.BestEdges(out)
	}
	if out == nil {
		out = []arbitrage.PairEdge{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cycleId": c.ID, "edges": out})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	c, ok := s.latest(w)
	if !ok {
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(c.Summary + "\n"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cycleId": c.ID, "summary": c.Summary})
}

type feeResponse struct {
	Venue string    `json:"venue"`
	Role  fees.Role `json:"role"`
	Rate  float64   `json:"rate"`
	Pct   string    `json:"pct"`
}

// feeLookup 带 venue 时解析单个费率，否则返回整个费率表。
func (s *Server) feeLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	venue := strings.ToLower(strings.TrimSpace(q.Get("venue")))
	if venue == "" {
		writeJSON(w, http.StatusOK, s.deps.Fees.Schedule())
		return
	}
	role := fees.ParseRole(q.Get("role"))
	rate := s.deps.Fees.Rate(venue, role)
	writeJSON(w, http.StatusOK, feeResponse{
		Venue: venue,
		Role:  role,
		Rate:  rate,
		Pct:   arbitrage.FormatPct(rate * 100),
	})
}

type cycleInfo struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
	Venues   int       `json:"venues"`
	Results  int       `json:"results"`
	Errors   int       `json:"errors"`
}

func newCycleInfo(c *snapshot.Cycle) cycleInfo {
	venues := 0
	if c.Prices != nil {
		venues = c.Prices.Len()
	}
	return cycleInfo{
		ID:       c.ID,
		Started:  c.Started,
		Duration: c.Duration.String(),
		Venues:   venues,
		Results:  len(c.Spreads),
		Errors:   len(c.Errors),
	}
}

func (s *Server) cycles(w http.ResponseWriter, _ *http.Request) {
	hist := s.deps.Store.History()
	out := make([]cycleInfo, 0, len(hist))
	for _, c := range hist {
		out = append(out, newCycleInfo(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) runCycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusNotImplemented, "manual refresh disabled")
		return
	}
	c, err := s.deps.Runner.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newCycleInfo(c))
}
