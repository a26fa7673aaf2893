package api

import (
	"context"
	"errors"
	"strings"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/outbox"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	intsync "github.com/Khushal-Kathad/Thryve-sub001/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// MessageService implements MessageServer.
type MessageService struct {
	composer *outbox.Composer
	queue    *outbox.Queue
	engine   *intsync.Engine
	conn     outbox.Connectivity
	bus      *bus.Bus
	profile  string
	logger   *zap.Logger
}

// NewMessageService creates a MessageService.
func NewMessageService(
	composer *outbox.Composer,
	queue *outbox.Queue,
	engine *intsync.Engine,
	conn outbox.Connectivity,
	b *bus.Bus,
	profile string,
	logger *zap.Logger,
) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{
		composer: composer,
		queue:    queue,
		engine:   engine,
		conn:     conn,
		bus:      b,
		profile:  profile,
		logger:   logger,
	}
}

func (s *MessageService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	if req.RoomID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id is required")
	}
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}

	d := outbox.Draft{
		RoomID:    req.RoomID,
		UserID:    req.UserID,
		Users:     req.Users,
		UserImage: req.UserImage,
		Message:   req.Message,
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		d.Image = &store.ImageData{
			Data:     req.Image.Data,
			MIMEType: req.Image.MIMEType,
			FileName: req.Image.FileName,
		}
	}
	if req.ReplyTo != nil {
		d.ReplyTo = &store.ReplyRef{
			ID:       req.ReplyTo.ID,
			Message:  req.ReplyTo.Message,
			Users:    req.ReplyTo.Users,
			ImageURL: req.ReplyTo.ImageURL,
		}
	}

	res, err := s.composer.Send(ctx, d)
	if errors.Is(err, outbox.ErrEmptyDraft) {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "send: %v", err)
	}
	return &SendMessageResponse{ID: res.ID, Delivered: res.Delivered, Queued: res.Queued}, nil
}

func (s *MessageService) ListPending(_ context.Context, _ *ListPendingRequest) (*ListPendingResponse, error) {
	msgs, err := s.queue.List()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list pending: %v", err)
	}
	out := make([]PendingMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, pendingToAPI(&msgs[i]))
	}
	return &ListPendingResponse{Messages: out}, nil
}

// RetryMessage resets a failed entry and drains the queue once so the
// caller sees the outcome.
func (s *MessageService) RetryMessage(ctx context.Context, req *RetryMessageRequest) (*RetryMessageResponse, error) {
	if req.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.queue.ResetForRetry(req.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, grpcstatus.Errorf(codes.NotFound, "message %s not found", req.ID)
		}
		return nil, grpcstatus.Errorf(codes.Internal, "reset: %v", err)
	}
	res := s.engine.SyncPendingMessages(ctx)
	return &RetryMessageResponse{Synced: res.Synced, Failed: res.Failed}, nil
}

func (s *MessageService) DiscardMessage(_ context.Context, req *DiscardMessageRequest) (*DiscardMessageResponse, error) {
	if req.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	m, err := s.queue.Get(req.ID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get: %v", err)
	}
	if m == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "message %s not found", req.ID)
	}
	if err := s.queue.Remove(req.ID); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "remove: %v", err)
	}
	s.logger.Info("pending message discarded", zap.String("msg_id", req.ID))
	return &DiscardMessageResponse{}, nil
}

func (s *MessageService) SyncNow(ctx context.Context, _ *SyncNowRequest) (*SyncNowResponse, error) {
	if !s.conn.Online() || s.engine.Running() {
		return &SyncNowResponse{Skipped: true}, nil
	}
	res := s.engine.SyncPendingMessages(ctx)
	return &SyncNowResponse{Synced: res.Synced, Failed: res.Failed}, nil
}

func (s *MessageService) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStreamingServer[EventEnvelope]) error {
	ch, unsub := s.bus.Subscribe("", 64)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matchNamespace(evt.Kind, req.Namespaces) {
				continue
			}
			env, err := envelope(s.profile, evt)
			if err != nil {
				s.logger.Warn("encode event failed", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matchNamespace(kind string, namespaces []string) bool {
	if len(namespaces) == 0 {
		return true
	}
	for _, ns := range namespaces {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}

func pendingToAPI(m *store.PendingMessage) PendingMessage {
	return PendingMessage{
		ID:               m.ID,
		RoomID:           m.RoomID,
		UserID:           m.UserID,
		Preview:          outbox.Preview(m.Message),
		HasImage:         m.ImageData != nil,
		UploadedImageURL: m.UploadedImageURL,
		ClientTimestamp:  m.ClientTimestamp,
		Status:           string(m.Status),
		RetryCount:       m.RetryCount,
	}
}
