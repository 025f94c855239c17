// mfaagent is the DC-resident agent: logon decisioning against local
// caches, central evaluation over mTLS, policy stream subscription, session
// gossip and the host IPC endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/authgate/mfasrv/internal/agent"
	"github.com/authgate/mfasrv/internal/config"
)

const version = "1.4.0"

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "mfaagent.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("[Agent] Configuration load failed", "error", err)
		os.Exit(1)
	}
	acfg := cfg.Agent

	local, err := agent.OpenLocalStore(acfg.CacheDSN)
	if err != nil {
		slog.Error("[Agent] Local store open failed", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files := agent.TLSFiles{Dir: acfg.CertDir}
	central, err := agent.Dial(acfg.CenterAddr, files)
	if err != nil {
		slog.Error("[Agent] Central dial failed", "error", err)
		os.Exit(1)
	}
	defer central.Close()

	agentID, err := bootstrap(ctx, central, local, files, acfg)
	if err != nil {
		slog.Error("[Agent] Bootstrap failed", "error", err)
		os.Exit(1)
	}

	// Enrollment may have written fresh identity material; redial so the
	// connection presents it.
	if files.HasCertificate() {
		central.Close()
		central, err = agent.Dial(acfg.CenterAddr, files)
		if err != nil {
			slog.Error("[Agent] Central redial failed", "error", err)
			os.Exit(1)
		}
		defer central.Close()
	}

	policies := agent.NewPolicyCache(local)
	sessions := agent.NewSessionCache(local)
	if err := policies.Warm(ctx); err != nil {
		slog.Warn("[Agent] Policy cache warm failed", "error", err)
	}
	if err := sessions.Warm(ctx); err != nil {
		slog.Warn("[Agent] Session cache warm failed", "error", err)
	}

	decider := agent.NewDecider(agentID, central, sessions, policies, acfg.FailoverMode)
	subscriber := agent.NewSubscriber(central, policies, local, agentID)

	broadcaster := agent.NewBroadcaster(agentID, acfg.GossipPeers)
	decider.SetAnnounce(broadcaster.Announce)
	receiver := agent.NewGossipReceiver(sessions)

	ipc := agent.NewIPCServer(acfg.IPCSocket, decider)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ipc.Run(ctx) })
	g.Go(func() error { subscriber.Run(ctx); return nil })
	g.Go(func() error { runHeartbeat(ctx, central, subscriber, sessions, agentID, acfg.HeartbeatInterval); return nil })
	g.Go(func() error { runCacheCleanup(ctx, sessions); return nil })
	g.Go(func() error {
		srv := &http.Server{Addr: acfg.PrometheusBind, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
		err := srv.ListenAndServe()
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	if files.HasCertificate() {
		serverTLS, err := agent.PeerTLSConfig(files, true)
		if err != nil {
			slog.Error("[Agent] Gossip TLS config failed", "error", err)
			os.Exit(1)
		}
		clientTLS, err := agent.PeerTLSConfig(files, false)
		if err != nil {
			slog.Error("[Agent] Gossip TLS config failed", "error", err)
			os.Exit(1)
		}
		gossipSrv := agent.NewGossipServer(acfg.GossipBind, serverTLS, receiver)
		g.Go(func() error { return gossipSrv.Run(ctx) })
		g.Go(func() error { broadcaster.Run(ctx, clientTLS); return nil })
	} else {
		slog.Warn("[Agent] No certificate yet, gossip plane disabled until enrollment")
	}

	slog.Info("[Agent] Up", "agent", agentID, "center", acfg.CenterAddr, "mode", acfg.FailoverMode)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("[Agent] Exiting on error", "error", err)
		os.Exit(1)
	}
	slog.Info("[Agent] Shutdown complete")
}

// bootstrap registers on first run and enrolls a certificate when absent.
// The agent id persists in cache metadata across restarts.
func bootstrap(ctx context.Context, central *agent.CentralClient, local *agent.LocalStore, files agent.TLSFiles, acfg config.Agent) (string, error) {
	agentID := acfg.ID
	if agentID == "" {
		agentID, _ = local.GetMetadata(ctx, "agent_id")
	}
	if agentID == "" {
		id, err := central.Register(ctx, acfg.Hostname, acfg.Type, "", version)
		if err != nil {
			return "", err
		}
		agentID = id
		if err := local.SetMetadata(ctx, "agent_id", agentID); err != nil {
			slog.Warn("[Agent] Persisting agent id failed", "error", err)
		}
	}
	if !files.HasCertificate() {
		if err := central.Enroll(ctx, agentID, acfg.Type, acfg.Hostname, files); err != nil {
			return "", err
		}
	}
	return agentID, nil
}

func runHeartbeat(ctx context.Context, central *agent.CentralClient, sub *agent.Subscriber, sessions *agent.SessionCache, agentID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := central.Heartbeat(ctx, agentID, sessions.ActiveCount())
			if err != nil {
				slog.Warn("[Agent] Heartbeat failed", "error", err)
				continue
			}
			if resp.ForcePolicySync {
				slog.Info("[Agent] Center requested policy resync")
				sub.ForceResync()
			}
		}
	}
}

func runCacheCleanup(ctx context.Context, sessions *agent.SessionCache) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Cleanup(ctx)
		}
	}
}
