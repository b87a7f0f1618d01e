package wire

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyang/domain-server/internal/adapter/memory"
	"github.com/alanyang/domain-server/internal/config"
	"github.com/alanyang/domain-server/internal/port/nodelist"
	svcassignment "github.com/alanyang/domain-server/internal/service/assignment"
	"github.com/alanyang/domain-server/internal/transport/dtls"
)

type sweepTargets struct {
	nodes    nodelist.Registry
	registry *svcassignment.Registry
	sessions *dtls.Manager // optional
	cache    *memory.Cache // optional; Redis expires its own keys
}

// startSweeper enforces every timeout in the process from one ticker: silent
// nodes are killed (their departure callback requeues held work), handed-out
// dynamic work that never checked in is discarded, idle or stuck DTLS sessions
// are evicted and expired cached tickets are pruned.
func startSweeper(ctx context.Context, cfg *config.Config, t sweepTargets) {
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sweep(ctx, cfg, t, now)
			}
		}
	}()
}

func sweep(ctx context.Context, cfg *config.Config, t sweepTargets, now time.Time) {
	for _, n := range t.nodes.Sweep(now, cfg.NodeTimeout) {
		slog.InfoContext(ctx, "node timed out", "node_id", n.ID, "type", n.Type, "public", n.Public)
	}
	if n := t.registry.SweepDeployed(ctx, cfg.DeployedTTL); n > 0 {
		slog.InfoContext(ctx, "sweeper: discarded unclaimed assignments", "count", n)
	}
	if t.sessions != nil {
		if n := t.sessions.Sweep(now); n > 0 {
			slog.DebugContext(ctx, "sweeper: evicted DTLS sessions", "count", n)
		}
	}
	if t.cache != nil {
		t.cache.Prune(now)
	}
}
