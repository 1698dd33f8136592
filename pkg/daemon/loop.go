package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/georchestra/datadirsync-k8s-agent/pkg/metrics"
)

// Loop runs poll cycles until stop is closed. The poll timer is reset
// when a cycle completes, not when it starts, so a slow cycle can
// never overlap the next one. A git failure is contained to its cycle:
// it is logged and the next tick retries, with the poll interval
// itself acting as the retry delay.
func (d *Daemon) Loop(stop chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()
	d.ensureInit()

	// Cancelling this context aborts an in-flight git fetch promptly
	// on shutdown. Trigger calls are not gated by it (see RunCycle).
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stop
		cancel()
	}()

	pollTimer := time.NewTimer(d.PollInterval)

	// Sync straight away on startup rather than waiting an interval.
	d.AskForSync()

	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case <-d.syncSoon:
			if !pollTimer.Stop() {
				select {
				case <-pollTimer.C:
				default:
				}
			}
			started := time.Now().UTC()
			err := d.RunCycle(ctx)
			cycleDuration.With(
				metrics.LabelSuccess, fmt.Sprint(err == nil),
			).Observe(time.Since(started).Seconds())
			if err != nil {
				logger.Log("err", err)
			}
			pollTimer.Reset(d.PollInterval)
		case <-pollTimer.C:
			d.AskForSync()
		}
	}
}
