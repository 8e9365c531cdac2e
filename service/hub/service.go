package hub

import (
	"context"

	"google.golang.org/grpc"

	"shuttle/service/hub/hubpb"
)

const serviceName = "HubService"

func method(name string) string { return "/" + serviceName + "/" + name }

// Server is the subset of the hub API this module speaks. Implementations are
// used to stand up a local hub, e.g. over bufconn in tests.
type Server interface {
	Subscribe(req *hubpb.SubscribeRequest, stream EventSender) error
	GetAllCastMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllReactionMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllLinkMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllVerificationMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllUserDataMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetFids(ctx context.Context, req *hubpb.FidsRequest) (*hubpb.FidsResponse, error)
}

type EventSender interface {
	Send(*hubpb.HubEvent) error
	Context() context.Context
}

type eventSender struct {
	grpc.ServerStream
}

func (s *eventSender) Send(evt *hubpb.HubEvent) error { return s.ServerStream.SendMsg(evt) }

// ServerOption makes a grpc.Server speak the hub wire format.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(hubpb.Codec{})
}

func Register(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func fidHandler(name string, call func(Server, context.Context, *hubpb.FidRequest) (*hubpb.MessagesResponse, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := &hubpb.FidRequest{}
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(Server), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(srv.(Server), ctx, r.(*hubpb.FidRequest))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		fidHandler("GetAllCastMessagesByFid", Server.GetAllCastMessagesByFid),
		fidHandler("GetAllReactionMessagesByFid", Server.GetAllReactionMessagesByFid),
		fidHandler("GetAllLinkMessagesByFid", Server.GetAllLinkMessagesByFid),
		fidHandler("GetAllVerificationMessagesByFid", Server.GetAllVerificationMessagesByFid),
		fidHandler("GetAllUserDataMessagesByFid", Server.GetAllUserDataMessagesByFid),
		{
			MethodName: "GetFids",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := &hubpb.FidsRequest{}
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).GetFids(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method("GetFids")}
				return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
					return srv.(Server).GetFids(ctx, r.(*hubpb.FidsRequest))
				})
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := &hubpb.SubscribeRequest{}
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(Server).Subscribe(req, &eventSender{ServerStream: stream})
			},
		},
	},
}
