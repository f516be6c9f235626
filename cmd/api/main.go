package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"comms-intel-go/internal/config"
	"comms-intel-go/internal/insights"
	"comms-intel-go/internal/logger"
	"comms-intel-go/internal/pipeline"
	"comms-intel-go/internal/store"
	"comms-intel-go/internal/textgen"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "comms-intel-go").Info("starting service")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open record store")
	}
	defer st.Close()

	svc := buildService(cfg)
	mux := newMux(st, pipeline.New(st, svc, cfg.Concurrency), insights.NewSelector(svc))

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

// statsResponse joins the executive counters with the per-classification
// breakdown the category chart reads.
type statsResponse struct {
	store.SummaryStats
	Classifications map[string]int `json:"classifications"`
}

func newMux(st *store.Store, runner *pipeline.Runner, selector *insights.Selector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Info("health check")
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/enrich", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "enrich")
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reqLog.Info("enrichment run requested")

		start := time.Now()
		report, err := runner.Run(r.Context())
		reqLog.WithField("duration_ms", time.Since(start).Milliseconds()).Info("pipeline finished")
		status := http.StatusOK
		if err != nil {
			reqLog.WithError(err).Error("pipeline run failed")
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, report)
	})

	mux.HandleFunc("/records", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "records")
		q := r.URL.Query()
		filter := store.Filter{
			Classification:    q.Get("classification"),
			SentimentCategory: q.Get("sentiment"),
			EscalationOnly:    q.Get("escalations") == "true",
			CustomerID:        q.Get("customer_id"),
		}
		records, err := st.FlattenedRecords(r.Context(), filter)
		if err != nil {
			reqLog.WithError(err).Error("query failed")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	mux.HandleFunc("/insights", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "insights")
		group, ok := insights.NamedGroup(r.URL.Query().Get("group"))
		if !ok {
			http.Error(w, "unknown group (use complaints, escalations, negative, high-priority)", http.StatusBadRequest)
			return
		}
		records, err := st.FlattenedRecords(r.Context(), store.Filter{})
		if err != nil {
			reqLog.WithError(err).Error("query failed")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		insight, err := selector.Build(r.Context(), records, group.Key, group.Predicate, group.Instruction)
		if err != nil {
			reqLog.WithError(err).Error("aggregation failed")
			http.Error(w, "aggregation failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, insight)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "stats")
		stats, err := st.Stats(r.Context())
		if err != nil {
			reqLog.WithError(err).Error("stats query failed")
			http.Error(w, "stats query failed", http.StatusInternalServerError)
			return
		}
		counts, err := st.ClassificationCounts(r.Context())
		if err != nil {
			reqLog.WithError(err).Error("classification query failed")
			http.Error(w, "stats query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{SummaryStats: stats, Classifications: counts})
	})

	return mux
}

func buildService(cfg config.Config) textgen.Service {
	if cfg.UseMockService {
		return textgen.NewMock()
	}
	return textgen.NewGateway(textgen.Options{
		GatewayURL:     cfg.GatewayURL,
		TranscribeURL:  cfg.TranscribeURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		RequestTimeout: cfg.RequestTimeout,
		RetryCeiling:   cfg.RetryCeiling,
	})
}

// writeJSON sets headers before the status line; anything set after
// WriteHeader is dropped.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
