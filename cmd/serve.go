package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/company"
	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/export"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
	"github.com/sells-group/leadgen-cli/internal/store"
)

const maxBatchBody = 10 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		tasks := []monitoring.Task{monitoring.SweepTask(env.Cache)}
		if cfg.Monitoring.WebhookURL != "" {
			tasks = append(tasks, monitoring.AlertTask(monitoring.NewCollector(env.Store), env.Alerter, cfg.Monitoring.LookbackWindowHours))
		}
		go monitoring.NewChecker(time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second, tasks...).Run(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(ctx, env, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// buildRouter mounts the API on a chi router. Batches run under ctx so a
// server shutdown cancels them.
func buildRouter(ctx context.Context, env *pipelineEnv, sc config.ServerConfig) http.Handler {
	h := &apiHandler{env: env, ctx: ctx}

	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(middleware.Recoverer)
	rtr.Use(requestLogger)
	rtr.Use(cors.Handler(cors.Options{
		AllowedOrigins: sc.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	rtr.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rtr.Route("/v1", func(v1 chi.Router) {
		v1.Use(newIPLimiter(sc.RequestsPerSec, sc.Burst).Middleware)

		v1.Get("/providers", h.providers)
		v1.Post("/batches", h.createBatch)
		v1.Get("/leads", h.listLeads)
		v1.Post("/cache/cleanup", h.cleanupCache)
		v1.Get("/cache/expiring", h.expiringCache)
		v1.Post("/dedup/resolve", h.resolveDuplicates)
		v1.Post("/dedup/merge", h.mergeCompanies)
	})
	return rtr
}

type apiHandler struct {
	env *pipelineEnv
	ctx context.Context

	// batchMu admits one batch at a time; the pipeline must not run two
	// batches against the same store.
	batchMu sync.Mutex
}

func (h *apiHandler) providers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.env.Registry.Snapshot())
}

type batchRequest struct {
	Postings     []model.JobPosting `json:"postings"`
	MaxCompanies int                `json:"max_companies,omitempty"`
	BudgetSecs   int                `json:"budget_secs,omitempty"`
}

func (h *apiHandler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Postings) == 0 {
		writeError(w, http.StatusBadRequest, "postings are required")
		return
	}
	if req.MaxCompanies < 0 || req.BudgetSecs < 0 {
		writeError(w, http.StatusBadRequest, "max_companies and budget_secs must not be negative")
		return
	}

	ro := pipeline.RunOptions{MaxCompanies: cfg.Pipeline.MaxCompanies, Budget: cfg.Pipeline.Budget()}
	if req.MaxCompanies > 0 {
		ro.MaxCompanies = req.MaxCompanies
	}
	if req.BudgetSecs > 0 {
		ro.Budget = time.Duration(req.BudgetSecs) * time.Second
	}

	if !h.batchMu.TryLock() {
		writeError(w, http.StatusConflict, "a batch is already running")
		return
	}
	defer h.batchMu.Unlock()

	// The batch outlives a dropped client connection but not the server.
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	res, err := h.env.Pipeline.Run(ctx, req.Postings, ro)
	if err != nil {
		zap.L().Error("api: batch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *apiHandler) listLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.LeadFilter
	var err error
	if filter.MinScore, err = intParam(q.Get("min_score"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "min_score must be an integer")
		return
	}
	if filter.Limit, err = intParam(q.Get("limit"), 100); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	if v := q.Get("company_id"); v != "" {
		if filter.CompanyID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "company_id must be an integer")
			return
		}
	}
	filter.FreshOnly = q.Get("fresh") == "true"

	rows, err := export.Load(r.Context(), h.env.Store, filter)
	if err != nil {
		zap.L().Error("api: list leads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list leads failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *apiHandler) cleanupCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.env.Cache.CleanupExpired(r.Context())
	if err != nil {
		zap.L().Error("api: cache cleanup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *apiHandler) expiringCache(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), 7)
	if err != nil || days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	entries, err := h.env.Cache.ExpiringSoon(r.Context(), days)
	if err != nil {
		zap.L().Error("api: cache expiring", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache query failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *apiHandler) resolveDuplicates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinConfidence string `json:"min_confidence"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.MinConfidence == "" {
		req.MinConfidence = cfg.Dedup.AutoResolve
	}
	conf, err := company.ParseConfidence(req.MinConfidence)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	merges, err := h.env.Engine.AutoResolveDuplicates(r.Context(), conf)
	if err != nil {
		zap.L().Error("api: resolve duplicates", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	if merges == nil {
		merges = []company.MergeResult{}
	}
	writeJSON(w, http.StatusOK, merges)
}

func (h *apiHandler) mergeCompanies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrimaryID    int64   `json:"primary_id"`
		DuplicateIDs []int64 `json:"duplicate_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PrimaryID <= 0 || len(req.DuplicateIDs) == 0 {
		writeError(w, http.StatusBadRequest, "primary_id and duplicate_ids are required")
		return
	}

	res, err := h.env.Engine.MergeCompanies(r.Context(), req.PrimaryID, req.DuplicateIDs)
	if errors.Is(err, company.ErrCompanyNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("company %d not found", req.PrimaryID))
		return
	}
	if err != nil {
		zap.L().Error("api: merge companies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "merge failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ipLimiter keeps one token bucket per client IP. Buckets idle for longer
// than idleTTL are dropped.
type ipLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the per-IP rate with 429. A
// non-positive rate disables limiting.
func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	if l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !l.allow(ip) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
