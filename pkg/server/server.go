package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/cwbridge/cwbridge/pkg/coordinator"
	"github.com/cwbridge/cwbridge/pkg/integration"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

type contextKey string

const (
	emailContextKey contextKey = "email"
)

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Integration is what the API exposes. *integration.Manager implements it.
type Integration interface {
	Location() *time.Location
	Entries(ctx context.Context) ([]integration.EntryStatus, error)
	Status(entryID string) (integration.EntryStatus, error)
	ResolveEntryID(entryID string) (string, error)
	Refresh(ctx context.Context, entryID string) (types.Response, error)
	SetOptions(ctx context.Context, entryID string, opts types.Options) (types.ConfigEntry, error)
	PushRank(ctx context.Context, entryID string) (coordinator.PushResult, error)
	UpdateHistory(ctx context.Context, entryID string, start, end time.Time) (coordinator.HistoryResult, error)
	RankPushes(ctx context.Context, entryID string, start, end time.Time) ([]types.RankPush, error)
}

var _ Integration = (*integration.Manager)(nil)

// Server handles the HTTP API used to inspect entries and call the
// integration services.
type Server struct {
	integration Integration

	listenAddr string
	httpServer *http.Server

	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(i Integration) *Server {
	srv := &Server{
		integration: i,
		serverName:  "cwbridge",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to use the API")
	oidcAudience := lflag.String("oidc-audience", "", "token to use for id tokens audience to validate")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google) to audience/client ID")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable authentication of the API (local development only)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if len(oidcAudiences) == 0 && *oidcAudience != "" {
			oidcAudiences = map[string]string{"google": *oidcAudience}
		}
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				switch n {
				case "google":
					provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
					if err != nil {
						log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
						os.Exit(1)
					}
					srv.oidcVerifiers[n] = provider.Verifier(&oidc.Config{ClientID: a}).Verify
					srv.oidcAudiences[n] = a
				default:
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
			}
		}
		srv.bypassAuth = *bypassAuth
		if !srv.bypassAuth && len(srv.oidcVerifiers) == 0 {
			log.Ctx(context.Background()).Error("either oidc-audience(s) or bypass-auth must be set")
			os.Exit(1)
		}
		if !srv.bypassAuth && len(srv.adminEmails) == 0 {
			log.Ctx(context.Background()).Error("admin-emails is required when authentication is enabled")
			os.Exit(1)
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/entries", s.handleListEntries)
	apiMux.HandleFunc("GET /api/entries/{entryID}/state", s.handleEntryState)
	apiMux.HandleFunc("POST /api/entries/{entryID}/refresh", s.handleRefresh)
	apiMux.HandleFunc("POST /api/entries/{entryID}/options", s.handleSetOptions)
	apiMux.HandleFunc("GET /api/entries/{entryID}/pushes", s.handleRankPushes)
	apiMux.HandleFunc("POST /api/services/update_history", s.handleUpdateHistory)
	apiMux.HandleFunc("POST /api/services/push_checkwatt_rank", s.handlePushRank)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
