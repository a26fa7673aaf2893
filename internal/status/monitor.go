package status

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pinger checks whether the remote store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor periodically pings the remote store and feeds the result into a Machine.
type Monitor struct {
	pinger   Pinger
	machine  *Machine
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a monitor that pings every interval.
func NewMonitor(p Pinger, m *Machine, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{pinger: p, machine: m, interval: interval, logger: logger}
}

// Start checks once immediately, then on every tick until Stop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop stops the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs a single reachability check.
func (m *Monitor) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.pinger.Ping(ctx)
	if err != nil && ctx.Err() == nil {
		m.logger.Debug("remote unreachable", zap.Error(err))
	}
	before := m.machine.Current()
	m.machine.Observe(err == nil)
	if after := m.machine.Current(); after != before {
		m.logger.Info("connectivity changed", zap.String("from", string(before)), zap.String("to", string(after)))
	}
}
