package center

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/authgate/mfasrv/internal/store"
	"github.com/authgate/mfasrv/pb"
)

type ctxKey int

const agentKey ctxKey = iota

// agentIdentity is what the interceptor resolved from the peer certificate.
type agentIdentity struct {
	AgentID    string
	Thumbprint string
}

// bootstrapMethods run before an agent holds a certificate.
var bootstrapMethods = map[string]bool{
	pb.AgentGateway_RegisterAgent_FullMethodName:     true,
	pb.AgentGateway_EnrollCertificate_FullMethodName: true,
}

// UnaryIdentity resolves the mTLS peer to a registered agent and stashes it
// in the context. Non-bootstrap methods without a resolvable identity are
// rejected.
func UnaryIdentity(st *store.Store) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := resolveIdentity(ctx, st, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamIdentity is the stream-side twin of UnaryIdentity.
func StreamIdentity(st *store.Store) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := resolveIdentity(ss.Context(), st, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func resolveIdentity(ctx context.Context, st *store.Store, fullMethod string) (context.Context, error) {
	thumb := peerThumbprint(ctx)
	if thumb == "" {
		if bootstrapMethods[fullMethod] {
			return ctx, nil
		}
		return nil, status.Error(codes.Unauthenticated, "client certificate required")
	}
	agent, err := st.AgentByThumbprint(ctx, thumb)
	if err != nil {
		if bootstrapMethods[fullMethod] {
			return ctx, nil
		}
		return nil, status.Error(codes.Unauthenticated, "unrecognized client certificate")
	}
	return context.WithValue(ctx, agentKey, agentIdentity{AgentID: agent.ID, Thumbprint: thumb}), nil
}

func peerThumbprint(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ""
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
		return ""
	}
	sum := sha256.Sum256(tlsInfo.State.PeerCertificates[0].Raw)
	return hex.EncodeToString(sum[:])
}

// agentFromContext returns the resolved agent id, or empty for bootstrap.
func agentFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(agentKey).(agentIdentity); ok {
		return id.AgentID
	}
	return ""
}

// requireAgent checks that the certificate identity matches the claimed id.
func requireAgent(ctx context.Context, claimed string) error {
	id, ok := ctx.Value(agentKey).(agentIdentity)
	if !ok {
		return status.Error(codes.Unauthenticated, "client certificate required")
	}
	if claimed != "" && claimed != id.AgentID {
		return status.Error(codes.PermissionDenied, "agent id does not match certificate")
	}
	return nil
}
