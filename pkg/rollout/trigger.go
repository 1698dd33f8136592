package rollout

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"golang.org/x/time/rate"
)

// Result is the outcome of one restart attempt.
type Result struct {
	Target Target
	Err    error
}

// Trigger issues restart calls for a set of targets with bounded
// concurrency and a shared rate limit, so that a mapping resolving to
// many deployments does not hammer the API server. Targets are
// independent; each result is reported separately and one failure
// never stops the others.
type Trigger struct {
	client      *Client
	limiter     *rate.Limiter
	concurrency int
	logger      log.Logger
}

func NewTrigger(client *Client, concurrency int, rps float64, logger log.Logger) *Trigger {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Trigger{
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run restarts every target and collects per-target outcomes. The
// context gates dispatch only: a call already handed to the API
// client runs to completion, so an in-flight trigger phase finishes
// its work on shutdown rather than abandoning it mid-flight.
func (tr *Trigger) Run(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := tr.concurrency
	if workers > len(targets) {
		workers = len(targets)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				target := targets[i]
				if err := tr.limiter.Wait(ctx); err != nil {
					results[i] = Result{Target: target, Err: err}
					continue
				}
				err := tr.client.Restart(target)
				results[i] = Result{Target: target, Err: err}
				if err != nil {
					tr.logger.Log("err", err, "target", target.String(), "kind", Classify(err))
				} else {
					tr.logger.Log("event", "restarted", "target", target.String())
				}
			}
		}()
	}
	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}
