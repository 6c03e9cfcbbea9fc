package materialize

import (
	"context"
	"sync"
)

// runParallel materializes columns with a bounded worker pool. Workers pull
// column indices off a queue, so each column is owned by exactly one worker
// and all sink writes target disjoint regions. The WaitGroup is the barrier
// required before the transpose pass: Run only proceeds once every column
// write is observably complete.
//
// The reader must tolerate concurrent ReadTimestepVector calls; the serafin
// reader does, since every access is a positioned read.
func (m *Materializer) runParallel(ctx context.Context, positions []int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan int)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < m.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scratch := make([]float64, m.np)
			for col := range tasks {
				if ctx.Err() != nil {
					continue // drain
				}
				if err := m.materializeColumn(col, positions[col], scratch); err != nil {
					fail(err)
					continue
				}
				m.noteProgress(len(positions))
			}
		}()
	}

feed:
	for col := range positions {
		select {
		case tasks <- col:
		case <-ctx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
