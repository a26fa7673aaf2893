package api

import (
	"context"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/outbox"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/status"
	intsync "github.com/Khushal-Kathad/Thryve-sub001/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// StatusService implements StatusServer.
type StatusService struct {
	machine    *status.Machine
	queue      *outbox.Queue
	engine     *intsync.Engine
	reconciler *intsync.Reconciler
	profile    string
	startedAt  time.Time
	logger     *zap.Logger
}

// NewStatusService creates a StatusService.
func NewStatusService(
	m *status.Machine,
	q *outbox.Queue,
	e *intsync.Engine,
	r *intsync.Reconciler,
	profile string,
	logger *zap.Logger,
) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{
		machine:    m,
		queue:      q,
		engine:     e,
		reconciler: r,
		profile:    profile,
		startedAt:  time.Now(),
		logger:     logger,
	}
}

func (s *StatusService) GetStatus(_ context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	count, err := s.queue.Count()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count pending: %v", err)
	}
	resp := &GetStatusResponse{
		Profile:       s.profile,
		Network:                string(s.machine.Current()),
		NetworkChangedAtUnixMs: s.machine.ChangedAt().UnixMilli(),
		ForcedOffline:          s.machine.Overridden(),
		PendingCount:           count,
		Draining:               s.engine.Running(),
		UptimeMs:               time.Since(s.startedAt).Milliseconds(),
	}

	cp, ok, err := s.reconciler.LastDrain()
	if err != nil {
		s.logger.Warn("read last drain failed", zap.Error(err))
	} else if ok {
		resp.LastDrainAtUnixMs = cp.At.UnixMilli()
		resp.LastDrainSynced = cp.Synced
		resp.LastDrainFailed = cp.Failed
	}
	return resp, nil
}

func (s *StatusService) SetNetwork(_ context.Context, req *SetNetworkRequest) (*SetNetworkResponse, error) {
	s.machine.SetOverride(req.Offline)
	s.logger.Info("network override set", zap.Bool("offline", req.Offline))
	return &SetNetworkResponse{Network: string(s.machine.Current())}, nil
}
