package fleet

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const probeTimeout = 2 * time.Second

// icmpProbe reports whether host answers a single unprivileged ICMP echo
// within the probe timeout.
func icmpProbe(ctx context.Context, host string) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = probeTimeout
	pinger.SetPrivileged(false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pinger.Run()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
	}

	return pinger.Statistics().PacketsRecv > 0
}
