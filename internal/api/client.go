package api

import (
	"context"

	"google.golang.org/grpc"
)

// MessageClient is the client side of MessageServer.
type MessageClient struct {
	cc grpc.ClientConnInterface
}

func NewMessageClient(cc grpc.ClientConnInterface) *MessageClient {
	return &MessageClient{cc: cc}
}

func (c *MessageClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, MessageServiceName, "SendMessage", in, opts)
}

func (c *MessageClient) ListPending(ctx context.Context, in *ListPendingRequest, opts ...grpc.CallOption) (*ListPendingResponse, error) {
	return invoke[ListPendingResponse](ctx, c.cc, MessageServiceName, "ListPending", in, opts)
}

func (c *MessageClient) RetryMessage(ctx context.Context, in *RetryMessageRequest, opts ...grpc.CallOption) (*RetryMessageResponse, error) {
	return invoke[RetryMessageResponse](ctx, c.cc, MessageServiceName, "RetryMessage", in, opts)
}

func (c *MessageClient) DiscardMessage(ctx context.Context, in *DiscardMessageRequest, opts ...grpc.CallOption) (*DiscardMessageResponse, error) {
	return invoke[DiscardMessageResponse](ctx, c.cc, MessageServiceName, "DiscardMessage", in, opts)
}

func (c *MessageClient) SyncNow(ctx context.Context, in *SyncNowRequest, opts ...grpc.CallOption) (*SyncNowResponse, error) {
	return invoke[SyncNowResponse](ctx, c.cc, MessageServiceName, "SyncNow", in, opts)
}

func (c *MessageClient) WatchEvents(ctx context.Context, in *WatchEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[EventEnvelope], error) {
	return openStream[WatchEventsRequest, EventEnvelope](ctx, c.cc, &MessageServiceDesc.Streams[0], MessageServiceName, in, opts)
}

// SignalClient is the client side of SignalServer.
type SignalClient struct {
	cc grpc.ClientConnInterface
}

func NewSignalClient(cc grpc.ClientConnInterface) *SignalClient {
	return &SignalClient{cc: cc}
}

func (c *SignalClient) SetTyping(ctx context.Context, in *SetTypingRequest, opts ...grpc.CallOption) (*BestEffortResponse, error) {
	return invoke[BestEffortResponse](ctx, c.cc, SignalServiceName, "SetTyping", in, opts)
}

func (c *SignalClient) ClearTyping(ctx context.Context, in *ClearTypingRequest, opts ...grpc.CallOption) (*BestEffortResponse, error) {
	return invoke[BestEffortResponse](ctx, c.cc, SignalServiceName, "ClearTyping", in, opts)
}

func (c *SignalClient) MarkAsRead(ctx context.Context, in *MarkAsReadRequest, opts ...grpc.CallOption) (*BestEffortResponse, error) {
	return invoke[BestEffortResponse](ctx, c.cc, SignalServiceName, "MarkAsRead", in, opts)
}

func (c *SignalClient) MarkAllAsRead(ctx context.Context, in *MarkAllAsReadRequest, opts ...grpc.CallOption) (*BestEffortResponse, error) {
	return invoke[BestEffortResponse](ctx, c.cc, SignalServiceName, "MarkAllAsRead", in, opts)
}

func (c *SignalClient) GetUnreadCount(ctx context.Context, in *GetUnreadCountRequest, opts ...grpc.CallOption) (*GetUnreadCountResponse, error) {
	return invoke[GetUnreadCountResponse](ctx, c.cc, SignalServiceName, "GetUnreadCount", in, opts)
}

func (c *SignalClient) WatchTyping(ctx context.Context, in *WatchTypingRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[TypingUpdate], error) {
	return openStream[WatchTypingRequest, TypingUpdate](ctx, c.cc, &SignalServiceDesc.Streams[0], SignalServiceName, in, opts)
}

func (c *SignalClient) WatchUnreadCounts(ctx context.Context, in *WatchUnreadCountsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[UnreadCounts], error) {
	return openStream[WatchUnreadCountsRequest, UnreadCounts](ctx, c.cc, &SignalServiceDesc.Streams[1], SignalServiceName, in, opts)
}

// StatusClient is the client side of StatusServer.
type StatusClient struct {
	cc grpc.ClientConnInterface
}

func NewStatusClient(cc grpc.ClientConnInterface) *StatusClient {
	return &StatusClient{cc: cc}
}

func (c *StatusClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	return invoke[GetStatusResponse](ctx, c.cc, StatusServiceName, "GetStatus", in, opts)
}

func (c *StatusClient) SetNetwork(ctx context.Context, in *SetNetworkRequest, opts ...grpc.CallOption) (*SetNetworkResponse, error) {
	return invoke[SetNetworkResponse](ctx, c.cc, StatusServiceName, "SetNetwork", in, opts)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	req, err := toMessage(in)
	if err != nil {
		return nil, err
	}
	reply, err := newMessage[Resp]()
	if err != nil {
		return nil, err
	}
	if err := cc.Invoke(ctx, fullMethod(service, method), req, reply, opts...); err != nil {
		return nil, err
	}
	out := new(Resp)
	if err := fromMessage(reply, out); err != nil {
		return nil, err
	}
	return out, nil
}

func openStream[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, service string, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Resp], error) {
	req, err := toMessage(in)
	if err != nil {
		return nil, err
	}
	stream, err := cc.NewStream(ctx, desc, fullMethod(service, desc.StreamName), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &recvStream[Resp]{ClientStream: stream}, nil
}

// recvStream decodes each incoming wire message into Resp.
type recvStream[Resp any] struct {
	grpc.ClientStream
}

func (s *recvStream[Resp]) Recv() (*Resp, error) {
	m, err := newMessage[Resp]()
	if err != nil {
		return nil, err
	}
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	out := new(Resp)
	if err := fromMessage(m, out); err != nil {
		return nil, err
	}
	return out, nil
}
