package pb

import (
	"context"

	"google.golang.org/grpc"
)

const (
	AgentGateway_EvaluateAuthentication_FullMethodName = "/mfasrv.v1.AgentGateway/EvaluateAuthentication"
	AgentGateway_VerifyChallenge_FullMethodName        = "/mfasrv.v1.AgentGateway/VerifyChallenge"
	AgentGateway_CheckChallengeStatus_FullMethodName   = "/mfasrv.v1.AgentGateway/CheckChallengeStatus"
	AgentGateway_RegisterAgent_FullMethodName          = "/mfasrv.v1.AgentGateway/RegisterAgent"
	AgentGateway_Heartbeat_FullMethodName              = "/mfasrv.v1.AgentGateway/Heartbeat"
	AgentGateway_EnrollCertificate_FullMethodName      = "/mfasrv.v1.AgentGateway/EnrollCertificate"
	AgentGateway_SyncPolicies_FullMethodName           = "/mfasrv.v1.AgentGateway/SyncPolicies"
)

// AgentGatewayClient is the agent's view of the center.
type AgentGatewayClient interface {
	EvaluateAuthentication(ctx context.Context, in *EvaluateAuthenticationRequest, opts ...grpc.CallOption) (*EvaluateAuthenticationResponse, error)
	VerifyChallenge(ctx context.Context, in *VerifyChallengeRequest, opts ...grpc.CallOption) (*VerifyChallengeResponse, error)
	CheckChallengeStatus(ctx context.Context, in *CheckChallengeStatusRequest, opts ...grpc.CallOption) (*CheckChallengeStatusResponse, error)
	RegisterAgent(ctx context.Context, in *RegisterAgentRequest, opts ...grpc.CallOption) (*RegisterAgentResponse, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	EnrollCertificate(ctx context.Context, in *EnrollCertificateRequest, opts ...grpc.CallOption) (*EnrollCertificateResponse, error)
	SyncPolicies(ctx context.Context, in *SyncPoliciesRequest, opts ...grpc.CallOption) (AgentGateway_SyncPoliciesClient, error)
}

type agentGatewayClient struct {
	cc grpc.ClientConnInterface
}

func NewAgentGatewayClient(cc grpc.ClientConnInterface) AgentGatewayClient {
	return &agentGatewayClient{cc}
}

func (c *agentGatewayClient) EvaluateAuthentication(ctx context.Context, in *EvaluateAuthenticationRequest, opts ...grpc.CallOption) (*EvaluateAuthenticationResponse, error) {
	out := new(EvaluateAuthenticationResponse)
	if err := c.cc.Invoke(ctx, AgentGateway_EvaluateAuthentication_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentGatewayClient) VerifyChallenge(ctx context.Context, in *VerifyChallengeRequest, opts ...grpc.CallOption) (*VerifyChallengeResponse, error) {
	out := new(VerifyChallengeResponse)
	if err := c.cc.Invoke(ctx, AgentGateway_VerifyChallenge_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentGatewayClient) CheckChallengeStatus(ctx context.Context, in *CheckChallengeStatusRequest, opts ...grpc.CallOption) (*CheckChallengeStatusResponse, error) {
	out := new(CheckChallengeStatusResponse)
	if err := c.cc.Invoke(ctx, AgentGateway_CheckChallengeStatus_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentGatewayClient) RegisterAgent(ctx context.Context, in *RegisterAgentRequest, opts ...grpc.CallOption) (*RegisterAgentResponse, error) {
	out := new(RegisterAgentResponse)
	if err := c.cc.Invoke(ctx, AgentGateway_RegisterAgent_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentGatewayClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, AgentGateway_Heartbeat_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentGatewayClient) EnrollCertificate(ctx context.Context, in *EnrollCertificateRequest, opts ...grpc.CallOption) (*EnrollCertificateResponse, error) {
	out := new(EnrollCertificateResponse)
	if err := c.cc.Invoke(ctx, AgentGateway_EnrollCertificate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentGatewayClient) SyncPolicies(ctx context.Context, in *SyncPoliciesRequest, opts ...grpc.CallOption) (AgentGateway_SyncPoliciesClient, error) {
	stream, err := c.cc.NewStream(ctx, &AgentGateway_ServiceDesc.Streams[0], AgentGateway_SyncPolicies_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &agentGatewaySyncPoliciesClient{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type AgentGateway_SyncPoliciesClient interface {
	Recv() (*PolicyUpdate, error)
	grpc.ClientStream
}

type agentGatewaySyncPoliciesClient struct {
	grpc.ClientStream
}

func (x *agentGatewaySyncPoliciesClient) Recv() (*PolicyUpdate, error) {
	m := new(PolicyUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AgentGatewayServer is implemented by the center.
type AgentGatewayServer interface {
	EvaluateAuthentication(context.Context, *EvaluateAuthenticationRequest) (*EvaluateAuthenticationResponse, error)
	VerifyChallenge(context.Context, *VerifyChallengeRequest) (*VerifyChallengeResponse, error)
	CheckChallengeStatus(context.Context, *CheckChallengeStatusRequest) (*CheckChallengeStatusResponse, error)
	RegisterAgent(context.Context, *RegisterAgentRequest) (*RegisterAgentResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	EnrollCertificate(context.Context, *EnrollCertificateRequest) (*EnrollCertificateResponse, error)
	SyncPolicies(*SyncPoliciesRequest, AgentGateway_SyncPoliciesServer) error
}

type AgentGateway_SyncPoliciesServer interface {
	Send(*PolicyUpdate) error
	grpc.ServerStream
}

type agentGatewaySyncPoliciesServer struct {
	grpc.ServerStream
}

func (x *agentGatewaySyncPoliciesServer) Send(m *PolicyUpdate) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterAgentGatewayServer(s grpc.ServiceRegistrar, srv AgentGatewayServer) {
	s.RegisterService(&AgentGateway_ServiceDesc, srv)
}

func _AgentGateway_EvaluateAuthentication_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EvaluateAuthenticationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentGatewayServer).EvaluateAuthentication(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentGateway_EvaluateAuthentication_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentGatewayServer).EvaluateAuthentication(ctx, req.(*EvaluateAuthenticationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentGateway_VerifyChallenge_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(VerifyChallengeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentGatewayServer).VerifyChallenge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentGateway_VerifyChallenge_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentGatewayServer).VerifyChallenge(ctx, req.(*VerifyChallengeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentGateway_CheckChallengeStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckChallengeStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentGatewayServer).CheckChallengeStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentGateway_CheckChallengeStatus_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentGatewayServer).CheckChallengeStatus(ctx, req.(*CheckChallengeStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentGateway_RegisterAgent_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterAgentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentGatewayServer).RegisterAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentGateway_RegisterAgent_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentGatewayServer).RegisterAgent(ctx, req.(*RegisterAgentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentGateway_Heartbeat_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentGatewayServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentGateway_Heartbeat_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentGatewayServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentGateway_EnrollCertificate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EnrollCertificateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentGatewayServer).EnrollCertificate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentGateway_EnrollCertificate_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentGatewayServer).EnrollCertificate(ctx, req.(*EnrollCertificateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentGateway_SyncPolicies_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SyncPoliciesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AgentGatewayServer).SyncPolicies(m, &agentGatewaySyncPoliciesServer{ServerStream: stream})
}

var AgentGateway_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "mfasrv.v1.AgentGateway",
	HandlerType: (*AgentGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EvaluateAuthentication", Handler: _AgentGateway_EvaluateAuthentication_Handler},
		{MethodName: "VerifyChallenge", Handler: _AgentGateway_VerifyChallenge_Handler},
		{MethodName: "CheckChallengeStatus", Handler: _AgentGateway_CheckChallengeStatus_Handler},
		{MethodName: "RegisterAgent", Handler: _AgentGateway_RegisterAgent_Handler},
		{MethodName: "Heartbeat", Handler: _AgentGateway_Heartbeat_Handler},
		{MethodName: "EnrollCertificate", Handler: _AgentGateway_EnrollCertificate_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SyncPolicies", Handler: _AgentGateway_SyncPolicies_Handler, ServerStreams: true},
	},
	Metadata: "mfasrv/v1/agentgateway",
}
