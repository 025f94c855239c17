package center

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/authgate/mfasrv/internal/store"
	"github.com/authgate/mfasrv/pb"
)

// Server wraps the gRPC listener for the agent plane.
type Server struct {
	grpc *grpc.Server
	addr string
}

func NewServer(addr string, tlsCfg *tls.Config, st *store.Store, gw *Gateway) *Server {
	s := grpc.NewServer(
		grpc.Creds(credentials.NewTLS(tlsCfg)),
		grpc.UnaryInterceptor(UnaryIdentity(st)),
		grpc.StreamInterceptor(StreamIdentity(st)),
	)
	pb.RegisterAgentGatewayServer(s, gw)
	return &Server{grpc: s, addr: addr}
}

// Run serves until ctx is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("[Center] gRPC listening", "addr", s.addr)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.grpc.GracefulStop()
		close(done)
	}()
	err = s.grpc.Serve(lis)
	<-done
	if ctx.Err() != nil {
		return nil
	}
	return err
}
