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
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/monitoring"
	"github.com/sells-group/leadscout/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mission API server",
	Long:  "Serves the mission API: submit missions, poll status, cancel, and fetch finalized leads while the engine runs in-process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		eng := buildEngine(st)
		collector := monitoring.NewCollector(st)

		engineDone := make(chan error, 1)
		go func() {
			engineDone <- eng.Run(ctx)
		}()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(eng, st, collector),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		if err := <-engineDone; err != nil {
			return eris.Wrap(err, "engine run")
		}
		return nil
	},
}

func newRouter(eng *engine.Orchestrator, st store.Store, collector *monitoring.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		snap, err := collector.Collect(req.Context(), 24)
		if err != nil {
			zap.L().Error("metrics collection failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "metrics collection failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Route("/api/missions", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var mreq engine.MissionRequest
			if err := json.NewDecoder(req.Body).Decode(&mreq); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}

			mission, err := eng.Submit(req.Context(), mreq)
			if err != nil {
				if errors.Is(err, engine.ErrInvalidMission) {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				zap.L().Error("mission submit failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "submit failed")
				return
			}

			writeJSON(w, http.StatusAccepted, map[string]string{
				"mission_id": mission.ID,
				"status":     string(mission.Status),
			})
		})

		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			mission, err := eng.Status(chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusNotFound, "unknown mission")
				return
			}
			writeJSON(w, http.StatusOK, mission)
		})

		// Cancellation is idempotent: repeating it returns the same 202.
		r.Post("/{id}/cancel", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := eng.Cancel(req.Context(), id); err != nil {
				writeError(w, http.StatusNotFound, "unknown mission")
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"mission_id": id,
				"status":     "cancelling",
			})
		})

		r.Get("/{id}/leads", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if _, err := eng.Status(id); err != nil {
				writeError(w, http.StatusNotFound, "unknown mission")
				return
			}
			leads, err := st.ListLeads(req.Context(), id)
			if err != nil {
				zap.L().Error("list leads failed", zap.String("mission_id", id), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "list leads failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"mission_id": id,
				"count":      len(leads),
				"leads":      leads,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
