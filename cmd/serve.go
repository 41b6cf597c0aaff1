package main

import (
	"encoding/json"
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

	"github.com/litstack/litreview/internal/config"
	"github.com/litstack/litreview/internal/progress"
	"github.com/litstack/litreview/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the progress server",
	Long:  "Serves run status for a polling frontend and accepts processing requests. Only one run is processed at a time; a request while one is active is refused.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tracker := progress.NewTracker()
		api := &serverAPI{
			cfg:     cfg,
			st:      st,
			tracker: tracker,
			// Processing outlives the request that triggered it, so it runs
			// on the server context, not the request context.
			process: func(sources []config.SourceConfig) {
				p := newProcessor(cfg, st, tracker)
				if _, err := p.Process(ctx, sources); err != nil {
					// Releases the handler's claim even when Process failed
					// before reaching the tracker itself.
					tracker.Fail(err.Error())
					zap.L().Error("processing failed", zap.Error(err))
				}
			},
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(api),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serverAPI bundles what the HTTP handlers need. process is injected so
// tests can observe requests without running the real pipeline.
type serverAPI struct {
	cfg     *config.Config
	st      store.Store
	tracker *progress.Tracker
	process func(sources []config.SourceConfig)
}

// newRouter builds the chi router for the progress server.
func newRouter(api *serverAPI) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", api.handleHealth)
	r.Get("/api/status", api.handleStatus)
	r.Get("/api/runs", api.handleRuns)
	r.Post("/api/process", api.handleProcess)

	return r
}

func (api *serverAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (api *serverAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.tracker.Snapshot())
}

func (api *serverAPI) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := api.st.ListRuns(r.Context(), store.RunFilter{
		Status: store.RunStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (api *serverAPI) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []config.SourceConfig `json:"sources"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	sources := req.Sources
	if len(sources) == 0 {
		sources = api.cfg.Sources
	}
	if len(sources) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no sources given or configured"})
		return
	}

	// TryStart claims the tracker atomically: of two racing requests only
	// one can win the claim, the other is refused here.
	if !api.tracker.TryStart(0, "run queued") {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "a run is already in progress",
		})
		return
	}

	go api.process(sources)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
