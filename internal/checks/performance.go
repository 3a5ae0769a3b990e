package checks

import (
	"time"

	"github.com/osbits/expira/internal/product"
)

// aggregatePerformance splits the primary request time into buckets.
// transfer is clamped at zero because the buckets come from different stages.
func aggregatePerformance(dns, connect, ssl, total time.Duration) *product.Performance {
	perf := &product.Performance{
		DNSTime:     dns.Milliseconds(),
		ConnectTime: connect.Milliseconds(),
		SSLTime:     ssl.Milliseconds(),
		TotalTime:   total.Milliseconds(),
	}
	perf.TransferTime = max(0, perf.TotalTime-(perf.DNSTime+perf.ConnectTime+perf.SSLTime))
	return perf
}
