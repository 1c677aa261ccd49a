package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mangadox/mangadox/internal/audit"
	"github.com/mangadox/mangadox/internal/counter"
	"github.com/mangadox/mangadox/internal/security"
	"github.com/mangadox/mangadox/internal/server"
	"github.com/mangadox/mangadox/internal/session"
	"github.com/mangadox/mangadox/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MangaDox account service",
		Long:  "Start the HTTP server that exposes registration, login, and the admin account API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Open the SQLite store.
	st, err := store.NewStore(resolveDataDir())
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "path", resolveDataDir())

	// 2. Counter store for the per-action rate limits.
	counters := counter.NewMemory()
	counters.Start()
	defer counters.Shutdown()

	// 3. Audit sinks: structured log plus the persistent security_events table.
	storeSink := audit.NewStoreSink(st, logger)
	defer storeSink.Shutdown()
	sink := audit.Fanout{audit.NewLogSink(logger), storeSink}

	// 4. Sessions and admin tokens.
	sessionTTL := viper.GetDuration("auth.session_ttl")
	sessions := session.NewManager(st, sessionTTL)

	tokenSecret := viper.GetString("auth.token_secret")
	if tokenSecret == "" {
		tokenSecret = "mangadox-dev-secret-change-me"
		logger.Warn("auth.token_secret not set, using development secret")
	}
	tokens := security.NewTokenService(tokenSecret, viper.GetDuration("auth.token_ttl"))

	// 5. The security service itself.
	limiter := security.NewLimiter(counters, logger)
	svc := security.NewService(st, sessions, limiter, sink, security.DefaultPolicy(), logger)

	// 6. Janitor for expired sessions.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := sessions.Sweep(context.Background()); err != nil {
				logger.Warn("session sweep failed", "error", err)
			} else if n > 0 {
				logger.Debug("session sweep", "removed", n)
			}
		}
	}()

	// 7. Build and start the HTTP server.
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if rpm := viper.GetInt("server.requests_per_minute"); rpm > 0 {
		srvCfg.RequestsPerMinute = rpm
	}
	if sessionTTL > 0 {
		srvCfg.SessionTTL = sessionTTL
	}

	srv := server.New(srvCfg, st, svc, sessions, tokens, logger)

	fmt.Printf("→ MangaDox account service\n")
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
