package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tenant_gateway/internal/queue"
)

// Workers groups the queue recorders of a gateway so their backlogs and
// dead letters can be read as one
type Workers []*QueueRecorder

// Start starts every worker
func (ws Workers) Start(ctx context.Context) {
	for _, w := range ws {
		w.Start(ctx)
	}
}

// Stop stops every worker, returning the first error
func (ws Workers) Stop() error {
	var first error
	for _, w := range ws {
		if err := w.Stop(); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", w.name, err)
		}
	}
	return first
}

// Backlog returns the number of queued records per worker
func (ws Workers) Backlog(ctx context.Context) (map[string]int, error) {
	backlog := make(map[string]int, len(ws))
	for _, w := range ws {
		n, err := w.QueueLength(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.name, err)
		}
		backlog[w.name] = n
	}
	return backlog, nil
}

// DeadLetters lists the dead letters of every worker, oldest first, each
// tagged with its worker name. maxItems <= 0 means all.
func (ws Workers) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	var all []queue.DeadLetterItem
	for _, w := range ws {
		items, err := w.DeadLetters(ctx, maxItems)
		if errors.Is(err, ErrNoDeadLetterQueue) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.name, err)
		}
		for i := range items {
			items[i].Source = w.name
		}
		all = append(all, items...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	if maxItems > 0 && len(all) > maxItems {
		all = all[:maxItems]
	}
	return all, nil
}

// RetryDeadLetter requeues the item on whichever worker holds it
func (ws Workers) RetryDeadLetter(ctx context.Context, id string) error {
	for _, w := range ws {
		err := w.RetryDeadLetter(ctx, id)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, queue.ErrItemNotFound), errors.Is(err, ErrNoDeadLetterQueue):
			continue
		default:
			return fmt.Errorf("%s: %w", w.name, err)
		}
	}
	return queue.ErrItemNotFound
}
