package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	localset "github.com/Swind/go-localset"
	"github.com/Swind/go-localset/core"
)

type healthResponse struct {
	Status   string `json:"status"`
	LocalSet string `json:"localset"`
	Driving  bool   `json:"driving"`
	Tasks    int    `json:"tasks"`
	Uptime   string `json:"uptime"`
}

// newStatusRouter serves /metrics from reg plus two JSON views of ls:
// /healthz and /ticks?limit=N (newest first).
func newStatusRouter(reg *prom.Registry, ls *localset.LocalSet, started time.Time) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		st := ls.Stats()
		status := "ok"
		if st.Closed {
			status = "closed"
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status:   status,
			LocalSet: st.Name,
			Driving:  st.Driving,
			Tasks:    st.Tasks,
			Uptime:   time.Since(started).Round(time.Second).String(),
		})
	})

	r.Get("/ticks", func(w http.ResponseWriter, req *http.Request) {
		limit := 0
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		ticks := ls.RecentTicks(limit)
		if ticks == nil {
			ticks = []core.TickRecord{}
		}
		writeJSON(w, http.StatusOK, ticks)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveStatus(addr string, handler http.Handler, logger core.Logger) (shutdown func()) {
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		logger.Info("status server starting", core.F("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", core.F("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
