package pb

import (
	"context"

	"google.golang.org/grpc"
)

const (
	GossipExchange_GossipSession_FullMethodName = "/mfasrv.v1.GossipExchange/GossipSession"
	GossipExchange_Ack_FullMethodName           = "/mfasrv.v1.GossipExchange/Ack"
)

// GossipExchangeClient is the DC-to-DC replication surface.
type GossipExchangeClient interface {
	GossipSession(ctx context.Context, in *SessionEvent, opts ...grpc.CallOption) (*GossipSessionResponse, error)
	Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error)
}

type gossipExchangeClient struct {
	cc grpc.ClientConnInterface
}

func NewGossipExchangeClient(cc grpc.ClientConnInterface) GossipExchangeClient {
	return &gossipExchangeClient{cc}
}

func (c *gossipExchangeClient) GossipSession(ctx context.Context, in *SessionEvent, opts ...grpc.CallOption) (*GossipSessionResponse, error) {
	out := new(GossipSessionResponse)
	if err := c.cc.Invoke(ctx, GossipExchange_GossipSession_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gossipExchangeClient) Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.cc.Invoke(ctx, GossipExchange_Ack_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GossipExchangeServer is implemented by every DC agent.
type GossipExchangeServer interface {
	GossipSession(context.Context, *SessionEvent) (*GossipSessionResponse, error)
	Ack(context.Context, *AckRequest) (*AckResponse, error)
}

func RegisterGossipExchangeServer(s grpc.ServiceRegistrar, srv GossipExchangeServer) {
	s.RegisterService(&GossipExchange_ServiceDesc, srv)
}

func _GossipExchange_GossipSession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SessionEvent)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GossipExchangeServer).GossipSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GossipExchange_GossipSession_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GossipExchangeServer).GossipSession(ctx, req.(*SessionEvent))
	}
	return interceptor(ctx, in, info, handler)
}

func _GossipExchange_Ack_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GossipExchangeServer).Ack(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GossipExchange_Ack_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GossipExchangeServer).Ack(ctx, req.(*AckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var GossipExchange_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "mfasrv.v1.GossipExchange",
	HandlerType: (*GossipExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GossipSession", Handler: _GossipExchange_GossipSession_Handler},
		{MethodName: "Ack", Handler: _GossipExchange_Ack_Handler},
	},
	Metadata: "mfasrv/v1/gossip",
}
