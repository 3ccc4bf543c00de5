package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"alertdesk/internal/config"
	"alertdesk/internal/model"
)

type RESTServer struct {
	sink     Sink
	observer Observer
	logger   *slog.Logger
}

func NewRESTServer(sink Sink, observer Observer, logger *slog.Logger) *RESTServer {
	return &RESTServer{sink: sink, observer: observer, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/email", s.handle(model.SourceEmail))
	mux.HandleFunc("/notifications", s.handle(model.SourceStored))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg config.RESTConfig, sink Sink, observer Observer, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("rest side channel disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest side channel enabled", "addr", cfg.Addr)
	}
	server := NewRESTServer(sink, observer, logger)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("rest side channel server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handle(source model.SourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		items, failed, err := decodeNotifications(body, source)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		accepted, duplicate := 0, 0
		for _, n := range items {
			var ok bool
			if source == model.SourceEmail {
				_, ok = s.sink.AddEmail(n)
			} else {
				_, ok = s.sink.Add(n)
			}
			if ok {
				accepted++
			} else {
				duplicate++
			}
		}
		if failed > 0 && s.logger != nil {
			s.logger.Warn("rest side channel rejected entries", "source", string(source), "failed", failed)
		}
		if s.observer != nil && accepted > 0 {
			s.observer.SideChannelAccepted("rest", accepted)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"accepted":  accepted,
			"duplicate": duplicate,
			"failed":    failed,
		})
	}
}
