package jobs

import (
	"context"

	"github.com/teranos/docpipe/pipes"
)

// Watch streams status snapshots of jobID, starting with the stored one,
// until the job completes or ctx ends. Intermediate snapshots may be
// skipped when the reader is slower than the job; the terminal one is
// always delivered. Unknown ids return an ErrJobNotFound error.
func (o *Orchestrator) Watch(ctx context.Context, jobID string) (<-chan pipes.JobStatus, error) {
	sub := o.subscribe(jobID)
	current, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		o.unsubscribe(jobID, sub)
		return nil, err
	}

	out := make(chan pipes.JobStatus)
	go func() {
		defer close(out)
		defer o.unsubscribe(jobID, sub)

		st := *current
		for {
			select {
			case out <- st:
			case <-ctx.Done():
				return
			}
			if st.Completed {
				return
			}
			for {
				var next pipes.JobStatus
				select {
				case next = <-sub:
				case <-ctx.Done():
					return
				}
				// a write that raced the initial read may arrive late
				if next.Completed || !next.UpdatedAt.Before(st.UpdatedAt) {
					st = next
					break
				}
			}
		}
	}()
	return out, nil
}

func (o *Orchestrator) subscribe(jobID string) chan pipes.JobStatus {
	ch := make(chan pipes.JobStatus, 1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.watchers[jobID] == nil {
		o.watchers[jobID] = make(map[chan pipes.JobStatus]struct{})
	}
	o.watchers[jobID][ch] = struct{}{}
	return ch
}

func (o *Orchestrator) unsubscribe(jobID string, ch chan pipes.JobStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.watchers[jobID], ch)
	if len(o.watchers[jobID]) == 0 {
		delete(o.watchers, jobID)
	}
}

// publish hands st to every watcher of its job, replacing any snapshot
// the watcher has not read yet.
func (o *Orchestrator) publish(st pipes.JobStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.watchers[st.JobID] {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (o *Orchestrator) forget(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.local, jobID)
}
