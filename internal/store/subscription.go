package store

import "context"

// Subscription streams snapshots of a query until Close is called or the
// context passed to Subscribe is cancelled. C is closed when it ends.
type Subscription struct {
	C      <-chan Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func startSubscription(ctx context.Context, q Query, initial []Document, f *feed, id uint64, sub *feedSubscriber) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot, 1)
	done := make(chan struct{})

	known := make(map[string]bool, len(initial))
	first := Snapshot{Changes: make([]Change, 0, len(initial))}
	for _, doc := range initial {
		known[doc.ID] = true
		first.Changes = append(first.Changes, Change{Kind: ChangeAdded, Doc: doc})
	}

	send := func(s Snapshot) bool {
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(done)
		defer close(out)
		defer f.unsubscribe(id)

		if !send(first) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.overflow:
				send(Snapshot{Err: ErrLagged})
				return
			case doc, ok := <-sub.ch:
				if !ok {
					return
				}
				change, ok := q.diff(known, doc)
				if !ok {
					continue
				}
				if !send(Snapshot{Changes: []Change{change}}) {
					return
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel, done: done}
}

// diff classifies a committed write against the ids currently in the result.
func (q Query) diff(known map[string]bool, doc Document) (Change, bool) {
	if doc.Collection != q.Collection {
		return Change{}, false
	}
	in := q.Matches(&doc)
	was := known[doc.ID]

	switch {
	case in && !was:
		known[doc.ID] = true
		return Change{Kind: ChangeAdded, Doc: doc}, true
	case in && was:
		return Change{Kind: ChangeModified, Doc: doc}, true
	case !in && was:
		delete(known, doc.ID)
		return Change{Kind: ChangeRemoved, Doc: doc}, true
	default:
		return Change{}, false
	}
}
