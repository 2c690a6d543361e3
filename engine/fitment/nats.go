package fitment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/sssolid/crown-nexus/engine/mapping"
	"github.com/sssolid/crown-nexus/pkg/natsutil"
)

// NATS subjects.
const (
	SubjectProcess = "fitment.process"
	SubjectRefresh = "fitment.mappings.refresh"
	SubjectChanged = "fitment.mappings.changed"

	// queueGroup load-balances process requests. Refresh requests are
	// not queued: every instance has its own cache to reload.
	queueGroup = "fitment"
)

// Refresher reloads the mapping cache.
type Refresher interface {
	Refresh(ctx context.Context) (mapping.RefreshStats, error)
}

// RefreshRequest asks a running service to reload its mapping cache.
type RefreshRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Serve answers process and refresh requests over NATS. Process requests are
// shared across instances; a refresh request reaches every instance. The
// caller unsubscribes the returned subscriptions on shutdown.
func Serve(nc *nats.Conn, svc *Service, refresher Refresher, logger *slog.Logger) ([]*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	process, err := natsutil.Respond(nc, SubjectProcess, queueGroup, svc.Handle)
	if err != nil {
		return nil, fmt.Errorf("fitment: subscribe %s: %w", SubjectProcess, err)
	}
	refresh, err := natsutil.Respond(nc, SubjectRefresh, "",
		func(ctx context.Context, req RefreshRequest) (mapping.RefreshStats, error) {
			logger.Info("mapping refresh requested over nats", "reason", req.Reason)
			return refresher.Refresh(ctx)
		})
	if err != nil {
		_ = process.Unsubscribe()
		return nil, fmt.Errorf("fitment: subscribe %s: %w", SubjectRefresh, err)
	}
	return []*nats.Subscription{process, refresh}, nil
}

// ChangePublisher publishes committed mapping mutations as audit events.
// Publishing never triggers a refresh.
type ChangePublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

var _ mapping.Notifier = (*ChangePublisher)(nil)

// NewChangePublisher creates a ChangePublisher on nc.
func NewChangePublisher(nc *nats.Conn, logger *slog.Logger) *ChangePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangePublisher{nc: nc, logger: logger}
}

// MappingsChanged publishes ev on SubjectChanged. Failures are logged.
func (p *ChangePublisher) MappingsChanged(ctx context.Context, ev mapping.ChangeEvent) {
	if err := natsutil.Publish(ctx, p.nc, SubjectChanged, ev); err != nil {
		p.logger.Warn("publish mapping change failed", "op", ev.Op, "ids", len(ev.IDs), "err", err)
	}
}
