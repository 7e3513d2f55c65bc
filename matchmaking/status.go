package matchmaking

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"quickmatch-server/matchmaking/application"
	"quickmatch-server/matchmaking/domain"
)

type statusResponse struct {
	Statistics domain.Statistics `json:"statistics"`
	Slots      []domain.Slot     `json:"slots"`
}

// StatsHandler atende GET /stats com o retrato atual do pool.
func StatsHandler(a *application.Authority, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		st, err := a.Statistics(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		slots, err := a.Slots(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusResponse{Statistics: st, Slots: slots}); err != nil {
			logger.Warn("stats encode failed", "err", err)
		}
	})
}

// HealthHandler responde 200 enquanto o loop de controle estiver rodando.
func HealthHandler(a *application.Authority) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-a.Done():
			http.Error(w, "stopped", http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}
	})
}

type MuxOptions struct {
	WS           WSOptions
	ConnectLimit ConnectLimitOptions
}

// NewMux monta /ws, /stats e /healthz.
func NewMux(opts MuxOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", ConnectLimit(opts.ConnectLimit)(WSHandler(opts.WS)))
	mux.Handle("/stats", StatsHandler(opts.WS.Authority, opts.WS.Logger))
	mux.Handle("/healthz", HealthHandler(opts.WS.Authority))
	return mux
}
