package api

import (
	"context"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/besteffort"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/presence"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/receipts"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/watch"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SignalService implements SignalServer.
type SignalService struct {
	presence *presence.Tracker
	receipts *receipts.Tracker
}

// NewSignalService creates a SignalService.
func NewSignalService(p *presence.Tracker, r *receipts.Tracker) *SignalService {
	return &SignalService{presence: p, receipts: r}
}

func (s *SignalService) SetTyping(ctx context.Context, req *SetTypingRequest) (*BestEffortResponse, error) {
	if req.RoomID == "" || req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id and user_id are required")
	}
	return bestEffort(s.presence.SetTyping(ctx, req.RoomID, req.UserID, req.UserName)), nil
}

func (s *SignalService) ClearTyping(ctx context.Context, req *ClearTypingRequest) (*BestEffortResponse, error) {
	if req.RoomID == "" || req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id and user_id are required")
	}
	return bestEffort(s.presence.ClearTyping(ctx, req.RoomID, req.UserID)), nil
}

func (s *SignalService) MarkAsRead(ctx context.Context, req *MarkAsReadRequest) (*BestEffortResponse, error) {
	if req.RoomID == "" || req.MessageID == "" || req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id, message_id and user_id are required")
	}
	return bestEffort(s.receipts.MarkAsRead(ctx, req.RoomID, req.MessageID, req.UserID)), nil
}

func (s *SignalService) MarkAllAsRead(ctx context.Context, req *MarkAllAsReadRequest) (*BestEffortResponse, error) {
	if req.RoomID == "" || req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id and user_id are required")
	}
	return bestEffort(s.receipts.MarkAllAsRead(ctx, req.RoomID, req.UserID, req.LastMessageTimestamp)), nil
}

func (s *SignalService) GetUnreadCount(ctx context.Context, req *GetUnreadCountRequest) (*GetUnreadCountResponse, error) {
	if req.RoomID == "" || req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id and user_id are required")
	}
	n := s.receipts.GetUnreadCount(ctx, req.RoomID, req.UserID, req.LastReadTimestamp)
	return &GetUnreadCountResponse{Count: n}, nil
}

// WatchTyping streams the active typers of a room. Opening another typing
// watch ends this one.
func (s *SignalService) WatchTyping(req *WatchTypingRequest, stream grpc.ServerStreamingServer[TypingUpdate]) error {
	if req.RoomID == "" {
		return grpcstatus.Error(codes.InvalidArgument, "room_id is required")
	}
	updates := make(chan []remote.TypingState, 1)
	h := s.presence.ListenForTyping(stream.Context(), req.RoomID, req.CurrentUserID, func(states []remote.TypingState) {
		latest(updates, states)
	})
	defer h.Cancel()

	return forward(stream, h, updates, func(states []remote.TypingState) *TypingUpdate {
		out := make([]TypingUser, 0, len(states))
		for _, st := range states {
			out = append(out, TypingUser{UserID: st.UserID, UserName: st.UserName, Timestamp: st.Timestamp})
		}
		return &TypingUpdate{Typing: out}
	})
}

// WatchUnreadCounts streams unread counts for up to the configured number of
// rooms. Opening another unread watch ends this one.
func (s *SignalService) WatchUnreadCounts(req *WatchUnreadCountsRequest, stream grpc.ServerStreamingServer[UnreadCounts]) error {
	if req.UserID == "" {
		return grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	updates := make(chan map[string]int, 1)
	h := s.receipts.ListenForUnreadCounts(stream.Context(), req.UserID, req.RoomIDs, func(counts map[string]int) {
		latest(updates, counts)
	})
	defer h.Cancel()

	return forward(stream, h, updates, func(counts map[string]int) *UnreadCounts {
		return &UnreadCounts{Counts: counts}
	})
}

// latest replaces any undelivered value in ch with v.
func latest[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func forward[T, Resp any](stream grpc.ServerStreamingServer[Resp], h *watch.Handle, updates chan T, convert func(T) *Resp) error {
	for {
		select {
		case v := <-updates:
			if err := stream.Send(convert(v)); err != nil {
				return err
			}
		case <-h.Done():
			return nil
		case <-stream.Context().Done():
			return nil
		}
	}
}

func bestEffort(r besteffort.Result) *BestEffortResponse {
	resp := &BestEffortResponse{OK: r.OK()}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}
