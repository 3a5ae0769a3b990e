package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"

	"github.com/osbits/expira/internal/product"
)

// ICMPOptions configures the optional ping probe.
type ICMPOptions struct {
	Enabled    bool
	Count      int
	Timeout    time.Duration
	Privileged bool
}

// pingAddress sends ICMP echoes to addr. It is descriptive only.
func pingAddress(ctx context.Context, addr string, opts ICMPOptions) (*product.PingStats, error) {
	pinger, err := ping.NewPinger(addr)
	if err != nil {
		return nil, fmt.Errorf("init pinger: %w", err)
	}
	pinger.SetPrivileged(opts.Privileged)
	pinger.Count = opts.Count
	if pinger.Count <= 0 {
		pinger.Count = 3
	}
	pinger.Timeout = opts.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = 5 * time.Second
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()
	err = pinger.Run()
	close(done)
	if err != nil {
		return nil, fmt.Errorf("ping %s: %w", addr, err)
	}

	stats := pinger.Statistics()
	return &product.PingStats{
		Address:    pinger.Addr(),
		Sent:       stats.PacketsSent,
		Received:   stats.PacketsRecv,
		PacketLoss: stats.PacketLoss,
		AvgRttMs:   float64(stats.AvgRtt) / float64(time.Millisecond),
	}, nil
}
