package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// StartPool starts workers goroutines that call run for every job id read
// from firings. Workers exit when ctx is cancelled or firings is closed.
func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	firings <-chan string,
	run func(ctx context.Context, id string),
	logger *zap.Logger,
) {

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			logger.Debug("worker started", zap.Int("worker_id", id))

			for {
				select {

				case <-ctx.Done():
					logger.Debug("worker shutting down", zap.Int("worker_id", id))
					return

				case jobID, ok := <-firings:
					if !ok {
						logger.Debug("firing channel closed", zap.Int("worker_id", id))
						return
					}

					logger.Debug("firing job",
						zap.Int("worker_id", id),
						zap.String("job_id", jobID),
					)

					run(ctx, jobID)
				}
			}
		}(i)
	}
}
