package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	MessageServiceName = "thryve.v1.MessageService"
	SignalServiceName  = "thryve.v1.SignalService"
	StatusServiceName  = "thryve.v1.StatusService"
)

// MessageServer is the send/queue/drain surface of the daemon.
type MessageServer interface {
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	ListPending(context.Context, *ListPendingRequest) (*ListPendingResponse, error)
	RetryMessage(context.Context, *RetryMessageRequest) (*RetryMessageResponse, error)
	DiscardMessage(context.Context, *DiscardMessageRequest) (*DiscardMessageResponse, error)
	SyncNow(context.Context, *SyncNowRequest) (*SyncNowResponse, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[EventEnvelope]) error
}

// SignalServer exposes typing presence and read receipts.
type SignalServer interface {
	SetTyping(context.Context, *SetTypingRequest) (*BestEffortResponse, error)
	ClearTyping(context.Context, *ClearTypingRequest) (*BestEffortResponse, error)
	MarkAsRead(context.Context, *MarkAsReadRequest) (*BestEffortResponse, error)
	MarkAllAsRead(context.Context, *MarkAllAsReadRequest) (*BestEffortResponse, error)
	GetUnreadCount(context.Context, *GetUnreadCountRequest) (*GetUnreadCountResponse, error)
	WatchTyping(*WatchTypingRequest, grpc.ServerStreamingServer[TypingUpdate]) error
	WatchUnreadCounts(*WatchUnreadCountsRequest, grpc.ServerStreamingServer[UnreadCounts]) error
}

// StatusServer reports daemon health and toggles the network override.
type StatusServer interface {
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	SetNetwork(context.Context, *SetNetworkRequest) (*SetNetworkResponse, error)
}

var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Metadata:    ProtoFile,
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "SendMessage", MessageServer.SendMessage),
		unary(MessageServiceName, "ListPending", MessageServer.ListPending),
		unary(MessageServiceName, "RetryMessage", MessageServer.RetryMessage),
		unary(MessageServiceName, "DiscardMessage", MessageServer.DiscardMessage),
		unary(MessageServiceName, "SyncNow", MessageServer.SyncNow),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchEvents", MessageServer.WatchEvents),
	},
}

var SignalServiceDesc = grpc.ServiceDesc{
	ServiceName: SignalServiceName,
	HandlerType: (*SignalServer)(nil),
	Metadata:    ProtoFile,
	Methods: []grpc.MethodDesc{
		unary(SignalServiceName, "SetTyping", SignalServer.SetTyping),
		unary(SignalServiceName, "ClearTyping", SignalServer.ClearTyping),
		unary(SignalServiceName, "MarkAsRead", SignalServer.MarkAsRead),
		unary(SignalServiceName, "MarkAllAsRead", SignalServer.MarkAllAsRead),
		unary(SignalServiceName, "GetUnreadCount", SignalServer.GetUnreadCount),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchTyping", SignalServer.WatchTyping),
		serverStream("WatchUnreadCounts", SignalServer.WatchUnreadCounts),
	},
}

var StatusServiceDesc = grpc.ServiceDesc{
	ServiceName: StatusServiceName,
	HandlerType: (*StatusServer)(nil),
	Metadata:    ProtoFile,
	Methods: []grpc.MethodDesc{
		unary(StatusServiceName, "GetStatus", StatusServer.GetStatus),
		unary(StatusServiceName, "SetNetwork", StatusServer.SetNetwork),
	},
}

func RegisterMessageServer(s grpc.ServiceRegistrar, srv MessageServer) {
	s.RegisterService(&MessageServiceDesc, srv)
}

func RegisterSignalServer(s grpc.ServiceRegistrar, srv SignalServer) {
	s.RegisterService(&SignalServiceDesc, srv)
}

func RegisterStatusServer(s grpc.ServiceRegistrar, srv StatusServer) {
	s.RegisterService(&StatusServiceDesc, srv)
}

func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			msg, err := newMessage[Req]()
			if err != nil {
				return nil, grpcstatus.Error(codes.Internal, err.Error())
			}
			if err := dec(msg); err != nil {
				return nil, err
			}
			in := new(Req)
			if err := fromMessage(msg, in); err != nil {
				return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(S), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				reply, err := toMessage(out)
				if err != nil {
					return nil, grpcstatus.Error(codes.Internal, err.Error())
				}
				return reply, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(service, method),
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[S, Req, Resp any](method string, call func(S, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			msg, err := newMessage[Req]()
			if err != nil {
				return grpcstatus.Error(codes.Internal, err.Error())
			}
			if err := stream.RecvMsg(msg); err != nil {
				return err
			}
			in := new(Req)
			if err := fromMessage(msg, in); err != nil {
				return grpcstatus.Error(codes.InvalidArgument, err.Error())
			}
			return call(srv.(S), in, &sendStream[Resp]{ServerStream: stream})
		},
	}
}

// sendStream converts each outgoing value to its wire message.
type sendStream[Resp any] struct {
	grpc.ServerStream
}

func (s *sendStream[Resp]) Send(v *Resp) error {
	m, err := toMessage(v)
	if err != nil {
		return grpcstatus.Error(codes.Internal, err.Error())
	}
	return s.ServerStream.SendMsg(m)
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}
