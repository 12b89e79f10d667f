package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/people-lookup/internal/backend"
	"github.com/sells-group/people-lookup/internal/search"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP search API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initLookup(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *lookupEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"backends": env.Backends,
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/api/search", func(w http.ResponseWriter, req *http.Request) {
		term := req.URL.Query().Get("q")
		res, err := env.Orchestrator.Search(req.Context(), term)
		if err != nil {
			writeSearchError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/cache", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, env.Cache.Stats())
		})
		r.Post("/cache/invalidate", func(w http.ResponseWriter, req *http.Request) {
			if term := req.URL.Query().Get("q"); term != "" {
				env.Orchestrator.Invalidate(term)
			} else {
				env.Cache.InvalidateAll()
			}
			respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
		})
		r.Get("/tokens", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, env.Tokens.Status())
		})
		r.Get("/breakers", func(w http.ResponseWriter, _ *http.Request) {
			states := map[string]string{}
			for name, st := range env.Breakers.States() {
				states[name] = st.String()
			}
			respondJSON(w, http.StatusOK, states)
		})
	})

	return r
}

func writeSearchError(w http.ResponseWriter, err error) {
	var all *search.AllBackendsFailedError
	switch {
	case errors.Is(err, backend.ErrInvalidQuery):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &all):
		respondJSON(w, http.StatusBadGateway, map[string]any{
			"error":    "all backends failed",
			"failures": all.Failures,
		})
	default:
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
