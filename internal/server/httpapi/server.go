// Package httpapi exposes the custody and recovery services over a JSON HTTP
// API. Key blobs travel base64-encoded; the handlers hold no business logic
// beyond decoding, dispatching and mapping errors to status codes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avolkov/quantvault/internal/logging"
	"github.com/avolkov/quantvault/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type HTTPServer struct {
	address   string
	users     *services.UserService
	custody   *services.CustodyService
	recovery  *services.RecoveryService
	logger    logging.Logger
	jwtSecret []byte
}

func NewHTTPServer(address string, l logging.Logger, us *services.UserService, cs *services.CustodyService, rs *services.RecoveryService, secretKey string) *HTTPServer {
	return &HTTPServer{
		address:   address,
		users:     us,
		custody:   cs,
		recovery:  rs,
		logger:    l.With("module", "http_server"),
		jwtSecret: []byte(secretKey),
	}
}

func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// unauthenticated: enrollment and recovery (the recovering party has no
	// token by definition)
	r.Post("/api/user/enroll", s.handleEnroll)
	r.Post("/api/recovery/initiate", s.handleInitiateRecovery)
	r.Post("/api/recovery/complete", s.handleCompleteRecovery)

	r.Group(func(r chi.Router) {
		r.Use(s.accessTokenMiddleware)

		r.Post("/api/devices", s.handleRegisterDevice)
		r.Get("/api/devices", s.handleListDevices)
		r.Get("/api/devices/{deviceID}/key", s.handleFetchWrappedKey)
		r.Delete("/api/devices/{deviceID}", s.handleRevokeDevice)

		r.Get("/api/transfers", s.handleListPendingTransfers)
		r.Post("/api/transfers/{transferID}/complete", s.handleCompleteTransfer)

		r.Post("/api/guardians", s.handleSetupGuardians)
		r.Get("/api/guardians", s.handleListGuardianShares)
		r.Delete("/api/guardians/{guardianID}", s.handleRevokeGuardian)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
