// mfaserver is the central MFA control plane: policy engine, challenge
// orchestration, session issuance, agent gateway, admin REST and the
// built-in CA.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/authgate/mfasrv/internal/api"
	"github.com/authgate/mfasrv/internal/audit"
	"github.com/authgate/mfasrv/internal/backup"
	"github.com/authgate/mfasrv/internal/ca"
	"github.com/authgate/mfasrv/internal/center"
	"github.com/authgate/mfasrv/internal/challenge"
	"github.com/authgate/mfasrv/internal/config"
	"github.com/authgate/mfasrv/internal/enrollment"
	"github.com/authgate/mfasrv/internal/keyring"
	"github.com/authgate/mfasrv/internal/lease"
	"github.com/authgate/mfasrv/internal/metrics"
	"github.com/authgate/mfasrv/internal/mfa"
	"github.com/authgate/mfasrv/internal/policy"
	"github.com/authgate/mfasrv/internal/secretbox"
	"github.com/authgate/mfasrv/internal/session"
	"github.com/authgate/mfasrv/internal/store"
	"github.com/authgate/mfasrv/internal/token"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "mfaserver.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("[Server] Configuration load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("[Server] Configuration invalid", "error", err)
		os.Exit(1)
	}

	keys, err := keyring.FromMasterKey(cfg.Keys.MasterKey)
	if err != nil {
		slog.Error("[Server] Key derivation failed", "error", err)
		os.Exit(1)
	}
	codec, err := token.NewCodec(keys.TokenMAC)
	if err != nil {
		slog.Error("[Server] Token codec init failed", "error", err)
		os.Exit(1)
	}
	box, err := secretbox.New(keys.SecretBox)
	if err != nil {
		slog.Error("[Server] Secret box init failed", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		slog.Error("[Server] Store open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	authority, err := ca.Open(cfg.CA.Dir)
	if err != nil {
		slog.Error("[Server] CA open failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	recorder := audit.NewRecorder(st)
	defer recorder.Close()

	registry := mfa.NewRegistry()
	registry.Register(mfa.NewTOTP(cfg.MFA.TOTPIssuer))

	engine := policy.NewEngine(st)
	stream := policy.NewStream()

	orch := challenge.New(st, registry, box,
		challenge.WithTTL(cfg.MFA.ChallengeTTL),
		challenge.WithMaxAttempts(cfg.MFA.MaxAttempts),
		challenge.WithAuditor(recorder),
	)
	sessions := session.NewManager(st, codec, cfg.MFA.SessionTTL)
	enrollments := enrollment.NewService(st, registry, box)

	snapshots, err := backup.New(st.Path(), cfg.Backup.Dir, cfg.Backup.Retention, st)
	if err != nil {
		slog.Error("[Server] Backup init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HA.Enabled && cfg.HA.RedisAddr != "" {
		stream.AttachRedis(ctx, cfg.HA.RedisAddr, cfg.HA.InstanceID)
	}

	serverCert, err := authority.IssueServerCert([]string{"localhost", cfg.HA.InstanceID})
	if err != nil {
		slog.Error("[Server] Listener certificate issuance failed", "error", err)
		os.Exit(1)
	}
	tlsCfg, err := authority.ServerTLSConfig(serverCert)
	if err != nil {
		slog.Error("[Server] TLS config failed", "error", err)
		os.Exit(1)
	}

	gateway := center.NewGateway(center.GatewayParams{
		Store:        st,
		Engine:       engine,
		Orchestrator: orch,
		Sessions:     sessions,
		Stream:       stream,
		Authority:    authority,
		Recorder:     recorder,
		Metrics:      m,
		ChallengeTTL: cfg.MFA.ChallengeTTL,
	})
	grpcSrv := center.NewServer(cfg.Server.GRPCBind, tlsCfg, st, gateway)

	restSrv := api.NewServer(api.Params{
		Store:       st,
		Stream:      stream,
		Enrollments: enrollments,
		Sessions:    sessions,
		Snapshots:   snapshots,
		Recorder:    recorder,
		Addr:        cfg.Server.RESTBind,
	})

	elector := lease.NewElector(st, cfg.HA.InstanceID, cfg.HA.LeaseDuration, cfg.HA.RenewInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcSrv.Run(ctx) })
	g.Go(func() error { return restSrv.Run(ctx) })
	g.Go(func() error { elector.Run(ctx); return nil })
	g.Go(func() error { snapshots.Run(ctx, cfg.Backup.Interval, elector.IsLeader); return nil })
	g.Go(func() error { runSweeps(ctx, st, sessions, elector.IsLeader, m); return nil })

	slog.Info("[Server] Control plane up",
		"grpc", cfg.Server.GRPCBind, "rest", cfg.Server.RESTBind, "instance", cfg.HA.InstanceID)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("[Server] Exiting on error", "error", err)
		os.Exit(1)
	}
	slog.Info("[Server] Shutdown complete")
}

// runSweeps owns the leader-only periodic jobs: session expiry, challenge
// expiry and stale-agent offline marking.
func runSweeps(ctx context.Context, st *store.Store, sessions *session.Manager, isLeader func() bool, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !isLeader() {
				continue
			}
			if _, err := sessions.CleanupExpired(ctx); err != nil {
				slog.Warn("[Server] Session sweep failed", "error", err)
			}
			if n, err := st.ExpireChallenges(ctx); err != nil {
				slog.Warn("[Server] Challenge sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("[Server] Challenges expired", "count", n)
			}
			if n, err := st.MarkStaleAgentsOffline(ctx, 3*30*time.Second); err != nil {
				slog.Warn("[Server] Agent liveness sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("[Server] Agents marked offline", "count", n)
			}
		}
	}
}
