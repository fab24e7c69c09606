// internal/keepalive/server.go
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server answers the hosting platform's health probes so the process is not
// idled out. It serves nothing else.
type Server struct {
	addr string
	log  *slog.Logger
}

func NewServer(port int, log *slog.Logger) *Server {
	return &Server{addr: fmt.Sprintf(":%d", port), log: log}
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Head("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: s.addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("keepalive listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
