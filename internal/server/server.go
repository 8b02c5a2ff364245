package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danmuck/sessionctl/internal/auth"
	logs "github.com/danmuck/sessionctl/internal/logging"
	"github.com/danmuck/sessionctl/internal/observability"
	"github.com/danmuck/sessionctl/internal/registry"
	"github.com/danmuck/sessionctl/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Sessions is the registry surface the admin server drives.
type Sessions interface {
	Slug() string
	Len() int
	GetAllSessions(ctx context.Context) ([]session.Info, error)
	GetSessionInfo(ctx context.Context, id session.ID) (session.Info, error)
	Remove(ctx context.Context, id session.ID, opts registry.RemoveOptions) (bool, error)
	RemoveAllByOwner(ctx context.Context, owner string) (int, error)
	RemoveAllByRemoteAddress(ctx context.Context, remoteAddress string) (int, error)
	RemoveAllByType(ctx context.Context, typ session.Type) (int, error)
	RemoveAll(ctx context.Context) (int, error)
	PendingTransaction() (session.ID, time.Time, bool)
	ResetTransaction()
}

var _ Sessions = (*registry.Registry)(nil)

type Options struct {
	Addr        string
	CorsOrigins []string
	// Token guards the session endpoints. Empty leaves them open.
	Token string
	// TLSCertFile and TLSKeyFile enable HTTPS. ClientCAFile additionally
	// requires client certificates signed by that authority.
	TLSCertFile  string
	TLSKeyFile   string
	ClientCAFile string
}

type Server struct {
	Addr     string
	Appeared time.Time

	sessions  Sessions
	validator auth.Validator
	router    *gin.Engine
	tls       *tls.Config
}

func New(sessions Sessions, opts Options) (*Server, error) {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(sessions.Slug()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	tlsCfg, err := loadTLS(opts)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Addr:      opts.Addr,
		Appeared:  time.Now(),
		sessions:  sessions,
		validator: auth.ForToken(opts.Token),
		router:    r,
		tls:       tlsCfg,
	}
	s.registerRoutes()
	return s, nil
}

func loadTLS(opts Options) (*tls.Config, error) {
	certFile := strings.TrimSpace(opts.TLSCertFile)
	keyFile := strings.TrimSpace(opts.TLSKeyFile)
	caFile := strings.TrimSpace(opts.ClientCAFile)
	if certFile == "" && keyFile == "" {
		if caFile != "" {
			return nil, errors.New("server: client_ca requires a server certificate")
		}
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("server: tls cert and key must be set together")
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("server: load tls key pair: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("server: read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("server: no certificates in %s", caFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln, over TLS when configured, until ctx ends.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("server.Server.Serve listening addr=%s tls=%t slug=%s", ln.Addr(), s.tls != nil, s.sessions.Slug())
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logs.Infof("server.Server.Serve stopped addr=%s", ln.Addr())
		return nil
	}
}

// authorize rejects requests without a valid bearer token when a
// validator is configured.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(s.validator, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
