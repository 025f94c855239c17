// Package center implements the agent-facing gRPC surface of the control
// plane: authentication evaluation, challenge verification, agent registry,
// certificate enrollment and the policy stream.
package center

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/authgate/mfasrv/internal/audit"
	"github.com/authgate/mfasrv/internal/ca"
	"github.com/authgate/mfasrv/internal/challenge"
	"github.com/authgate/mfasrv/internal/metrics"
	"github.com/authgate/mfasrv/internal/model"
	"github.com/authgate/mfasrv/internal/policy"
	"github.com/authgate/mfasrv/internal/session"
	"github.com/authgate/mfasrv/internal/store"
	"github.com/authgate/mfasrv/pb"
)

// Gateway is the AgentGatewayServer implementation.
type Gateway struct {
	store     *store.Store
	engine    *policy.Engine
	orch      *challenge.Orchestrator
	sessions  *session.Manager
	stream    *policy.Stream
	authority *ca.Authority
	recorder  *audit.Recorder
	metrics   *metrics.Metrics

	challengeTTL time.Duration

	// forceSync marks agents whose policy watermark the center no longer
	// trusts; cleared on the next heartbeat that reports it.
	syncMu    sync.Mutex
	forceSync map[string]bool
}

type GatewayParams struct {
	Store        *store.Store
	Engine       *policy.Engine
	Orchestrator *challenge.Orchestrator
	Sessions     *session.Manager
	Stream       *policy.Stream
	Authority    *ca.Authority
	Recorder     *audit.Recorder
	Metrics      *metrics.Metrics
	ChallengeTTL time.Duration
}

func NewGateway(p GatewayParams) *Gateway {
	if p.ChallengeTTL == 0 {
		p.ChallengeTTL = 5 * time.Minute
	}
	return &Gateway{
		store:        p.Store,
		engine:       p.Engine,
		orch:         p.Orchestrator,
		sessions:     p.Sessions,
		stream:       p.Stream,
		authority:    p.Authority,
		recorder:     p.Recorder,
		metrics:      p.Metrics,
		challengeTTL: p.ChallengeTTL,
		forceSync:    make(map[string]bool),
	}
}

// RequestPolicySync flags an agent for a full resync on its next heartbeat.
func (g *Gateway) RequestPolicySync(agentID string) {
	g.syncMu.Lock()
	g.forceSync[agentID] = true
	g.syncMu.Unlock()
}

// EvaluateAuthentication is the hot path: one call per intercepted logon
// that missed the agent's caches.
func (g *Gateway) EvaluateAuthentication(ctx context.Context, req *pb.EvaluateAuthenticationRequest) (*pb.EvaluateAuthenticationResponse, error) {
	started := time.Now()
	resp, err := g.evaluate(ctx, req)
	if g.metrics != nil {
		decision := "error"
		if err == nil {
			decision = resp.Decision
		}
		g.metrics.Evaluations.WithLabelValues(decision).Inc()
		g.metrics.EvaluationDuration.WithLabelValues(decision).Observe(time.Since(started).Seconds())
	}
	return resp, err
}

func (g *Gateway) evaluate(ctx context.Context, req *pb.EvaluateAuthenticationRequest) (*pb.EvaluateAuthenticationResponse, error) {
	if req.UserName == "" {
		return nil, status.Error(codes.InvalidArgument, "user_name is required")
	}

	user, err := g.store.GetUserByName(ctx, req.UserName)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown principals are outside MFA enforcement; the directory is
		// the authority on whether the logon itself succeeds.
		g.record("auth_evaluated", "", req, true, "user not in scope")
		return &pb.EvaluateAuthenticationResponse{
			Decision: model.DecisionAllow,
			Reason:   "user not subject to MFA",
		}, nil
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, "state store unavailable")
	}
	if !user.Enabled {
		g.record("auth_evaluated", user.ID, req, false, "account disabled")
		return &pb.EvaluateAuthenticationResponse{
			Decision: model.DecisionDeny,
			Reason:   "account disabled",
		}, nil
	}

	groups, err := g.store.GroupsForUser(ctx, user.ID)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "state store unavailable")
	}
	names := make([]string, 0, len(groups))
	for _, gm := range groups {
		names = append(names, gm.GroupName)
	}

	actx := &model.AuthenticationContext{
		UserName:       req.UserName,
		UserGroups:     names,
		SourceIP:       req.SourceIP,
		UserOU:         user.DN,
		TargetResource: req.Domain,
		Protocol:       req.Protocol,
		Timestamp:      time.Now(),
	}

	result, err := g.engine.Evaluate(ctx, actx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "policy evaluation unavailable")
	}
	if result.Alert {
		g.record("policy_alert", user.ID, req, true, result.MatchedPolicyName)
	}

	switch result.Decision {
	case model.DecisionDeny:
		g.record("auth_evaluated", user.ID, req, false, result.Reason)
		return &pb.EvaluateAuthenticationResponse{
			Decision: model.DecisionDeny,
			Reason:   result.Reason,
		}, nil

	case model.DecisionRequireMFA:
		return g.requireMFA(ctx, user, req, result)

	default:
		g.record("auth_evaluated", user.ID, req, true, result.Reason)
		return &pb.EvaluateAuthenticationResponse{
			Decision: model.DecisionAllow,
			Reason:   result.Reason,
		}, nil
	}
}

func (g *Gateway) requireMFA(ctx context.Context, user *model.User, req *pb.EvaluateAuthenticationRequest, result *model.PolicyEvaluationResult) (*pb.EvaluateAuthenticationResponse, error) {
	// A live session for the same user and source satisfies the requirement
	// without a fresh challenge.
	if sess, err := g.sessions.FindActive(ctx, user.SAMAccountName, req.SourceIP); err == nil && sess != nil {
		g.record("auth_evaluated", user.ID, req, true, "existing session "+sess.ID)
		return &pb.EvaluateAuthenticationResponse{
			Decision: model.DecisionAllow,
			Reason:   "verified session in effect",
		}, nil
	}

	if !user.MFAEnabled {
		// Policy demands MFA but the user has nothing enrolled yet. Blocking
		// here would lock out every user before rollout completes.
		g.record("mfa_not_enrolled", user.ID, req, true, result.MatchedPolicyName)
		return &pb.EvaluateAuthenticationResponse{
			Decision: model.DecisionAllow,
			Reason:   "MFA required but no active enrollment",
		}, nil
	}

	actx := &model.AuthenticationContext{
		UserName:       req.UserName,
		SourceIP:       req.SourceIP,
		TargetResource: req.Domain,
		Protocol:       req.Protocol,
		Timestamp:      time.Now(),
	}
	issued, err := g.orch.Issue(ctx, user.ID, result.RequiredMethod, actx)
	if err != nil {
		if errors.Is(err, challenge.ErrNoEnrollment) {
			g.record("mfa_not_enrolled", user.ID, req, true, result.RequiredMethod)
			return &pb.EvaluateAuthenticationResponse{
				Decision: model.DecisionAllow,
				Reason:   "MFA required but no active enrollment",
			}, nil
		}
		return nil, status.Error(codes.Unavailable, "challenge issuance failed")
	}
	if g.metrics != nil {
		g.metrics.ChallengesIssued.WithLabelValues(model.NormalizeMethodID(result.RequiredMethod)).Inc()
	}

	meta := map[string]string{}
	if issued.UserPrompt != "" {
		meta["user_prompt"] = issued.UserPrompt
	}
	return &pb.EvaluateAuthenticationResponse{
		Decision:          "challenge",
		ChallengeID:       issued.ChallengeID,
		Reason:            result.Reason,
		TimeoutMs:         g.challengeTTL.Milliseconds(),
		RequiredMethod:    model.NormalizeMethodID(result.RequiredMethod),
		ChallengeMetadata: meta,
	}, nil
}

// VerifyChallenge settles a synchronous challenge and mints the session.
func (g *Gateway) VerifyChallenge(ctx context.Context, req *pb.VerifyChallengeRequest) (*pb.VerifyChallengeResponse, error) {
	started := time.Now()
	defer func() {
		if g.metrics != nil {
			g.metrics.VerifyDuration.Observe(time.Since(started).Seconds())
		}
	}()

	result, err := g.orch.Verify(ctx, req.ChallengeID, req.Response)
	if err != nil && result == nil {
		return nil, status.Error(codes.Unavailable, "verification unavailable")
	}
	if !result.Success {
		return &pb.VerifyChallengeResponse{
			Success:       false,
			ShouldLockout: result.ShouldLockout,
			Error:         result.Error,
		}, nil
	}

	tok, err := g.mintForChallenge(ctx, req.ChallengeID)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "session creation failed")
	}
	return &pb.VerifyChallengeResponse{Success: true, SessionToken: tok}, nil
}

// CheckChallengeStatus reports async progress. The first poll that observes
// approval also mints the session token; later polls see the status only.
func (g *Gateway) CheckChallengeStatus(ctx context.Context, req *pb.CheckChallengeStatusRequest) (*pb.CheckChallengeStatusResponse, error) {
	st, err := g.orch.Status(ctx, req.ChallengeID)
	if err != nil && st == nil {
		return nil, status.Error(codes.Unavailable, "status unavailable")
	}
	resp := &pb.CheckChallengeStatusResponse{Status: st.Status, Error: st.Error}
	if st.Status == model.ChallengeApproved {
		c, err := g.store.GetChallenge(ctx, req.ChallengeID)
		if err != nil {
			return resp, nil
		}
		user, err := g.store.GetUser(ctx, c.UserID)
		if err != nil {
			return resp, nil
		}
		if sess, err := g.sessions.FindActive(ctx, user.SAMAccountName, c.SourceIP); err == nil && sess != nil {
			return resp, nil
		}
		if tok, err := g.mintForChallenge(ctx, req.ChallengeID); err == nil {
			resp.SessionToken = tok
		}
	}
	return resp, nil
}

func (g *Gateway) mintForChallenge(ctx context.Context, challengeID string) (string, error) {
	c, err := g.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return "", err
	}
	user, err := g.store.GetUser(ctx, c.UserID)
	if err != nil {
		return "", err
	}
	created, err := g.sessions.Create(ctx, session.CreateParams{
		UserID:         user.ID,
		UserName:       user.SAMAccountName,
		SourceIP:       c.SourceIP,
		TargetResource: c.Target,
		VerifiedMethod: c.Method,
		DCHint:         agentFromContext(ctx),
	})
	if err != nil {
		return "", err
	}
	if g.metrics != nil {
		g.metrics.SessionsCreated.Inc()
	}
	if g.recorder != nil {
		g.recorder.Record(&model.AuditLogEntry{
			EventType: "session_created",
			UserID:    user.ID,
			SourceIP:  c.SourceIP,
			Success:   true,
			Details:   "method=" + c.Method,
		})
	}
	return base64.RawURLEncoding.EncodeToString(created.Token), nil
}

// RegisterAgent is a bootstrap RPC: no client certificate required yet.
func (g *Gateway) RegisterAgent(ctx context.Context, req *pb.RegisterAgentRequest) (*pb.RegisterAgentResponse, error) {
	if req.Hostname == "" || req.AgentType == "" {
		return &pb.RegisterAgentResponse{Success: false, Error: "hostname and agent_type are required"}, nil
	}
	reg, err := g.store.RegisterAgent(ctx, &model.AgentRegistration{
		Type:     req.AgentType,
		Hostname: req.Hostname,
		IP:       req.IP,
		Version:  req.Version,
		Status:   "online",
	})
	if err != nil {
		return nil, status.Error(codes.Unavailable, "state store unavailable")
	}
	slog.Info("[Center] Agent registered", "agent", reg.ID, "hostname", req.Hostname, "type", req.AgentType)
	return &pb.RegisterAgentResponse{Success: true, AgentID: reg.ID}, nil
}

// Heartbeat keeps the agent row fresh and piggybacks the resync flag.
func (g *Gateway) Heartbeat(ctx context.Context, req *pb.HeartbeatRequest) (*pb.HeartbeatResponse, error) {
	if err := requireAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}
	if err := g.store.HeartbeatAgent(ctx, req.AgentID); err != nil {
		return nil, status.Error(codes.Unavailable, "state store unavailable")
	}
	g.syncMu.Lock()
	force := g.forceSync[req.AgentID]
	delete(g.forceSync, req.AgentID)
	g.syncMu.Unlock()
	return &pb.HeartbeatResponse{Ack: true, ForcePolicySync: force}, nil
}

// EnrollCertificate signs the agent's CSR. Bootstrap RPC: identity is the
// registered agent id, proven later by possession of the signed cert.
func (g *Gateway) EnrollCertificate(ctx context.Context, req *pb.EnrollCertificateRequest) (*pb.EnrollCertificateResponse, error) {
	if _, err := g.store.GetAgent(ctx, req.AgentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &pb.EnrollCertificateResponse{Success: false, Error: "unknown agent"}, nil
		}
		return nil, status.Error(codes.Unavailable, "state store unavailable")
	}

	certPEM, thumbprint, err := g.authority.Sign([]byte(req.CSRPem), req.AgentID)
	if err != nil {
		return &pb.EnrollCertificateResponse{Success: false, Error: "invalid certificate request"}, nil
	}
	if err := g.store.SetAgentThumbprint(ctx, req.AgentID, thumbprint); err != nil {
		return nil, status.Error(codes.Unavailable, "state store unavailable")
	}
	rootPEM, err := g.authority.RootPEM()
	if err != nil {
		return nil, status.Error(codes.Internal, "certificate authority unavailable")
	}
	slog.Info("[Center] Certificate enrolled", "agent", req.AgentID, "thumbprint", thumbprint[:16])
	return &pb.EnrollCertificateResponse{
		Success:       true,
		SignedCertPem: string(certPEM),
		CACertPem:     string(rootPEM),
	}, nil
}

// SyncPolicies replays enabled policies newer than the agent's watermark,
// then forwards live changes until the stream breaks.
func (g *Gateway) SyncPolicies(req *pb.SyncPoliciesRequest, srv pb.AgentGateway_SyncPoliciesServer) error {
	ctx := srv.Context()
	if err := requireAgent(ctx, req.AgentID); err != nil {
		return err
	}

	policies, err := g.store.LoadEnabledPolicies(ctx)
	if err != nil {
		return status.Error(codes.Unavailable, "state store unavailable")
	}
	for i := range policies {
		p := &policies[i]
		if !p.Updated.After(req.LastSync) {
			continue
		}
		body, err := json.Marshal(p)
		if err != nil {
			continue
		}
		if err := srv.Send(&pb.PolicyUpdate{
			PolicyID:   p.ID,
			PolicyJSON: string(body),
			UpdatedAt:  p.Updated,
		}); err != nil {
			return err
		}
	}

	ch, cancel := g.stream.Subscribe(req.AgentID)
	defer cancel()
	slog.Info("[Center] Policy stream attached", "agent", req.AgentID, "since", req.LastSync)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case note, ok := <-ch:
			if !ok {
				// A newer subscription from the same agent displaced this one.
				return nil
			}
			if g.metrics != nil {
				kind := "changed"
				if note.Deleted {
					kind = "deleted"
				}
				g.metrics.PolicySyncEvents.WithLabelValues(kind).Inc()
			}
			if err := srv.Send(&pb.PolicyUpdate{
				PolicyID:   note.PolicyID,
				PolicyJSON: note.PolicyJSON,
				Deleted:    note.Deleted,
				UpdatedAt:  note.UpdatedAt,
			}); err != nil {
				return err
			}
		}
	}
}

func (g *Gateway) record(event, userID string, req *pb.EvaluateAuthenticationRequest, success bool, details string) {
	if g.recorder == nil {
		return
	}
	g.recorder.Record(&model.AuditLogEntry{
		EventType: event,
		UserID:    userID,
		UserName:  req.UserName,
		SourceIP:  req.SourceIP,
		Target:    req.Domain,
		Success:   success,
		Details:   details,
	})
}
