package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// logTTL bounds the replay log's lifetime: the worst-case job duration
// plus the reconnect slack.
const logTTL = time.Hour + cache.TTLProgressSlack

// subscriberBuffer absorbs bursts so a slow subscriber can't stall the
// publisher; overflow drops the subscriber, which then recovers by
// resubscribing with its last seen seq.
const subscriberBuffer = 64

// Hub is the push channel per (user, job): in-process fan-out for live
// subscribers, backed by a short-TTL event log in the cache so
// reconnecting subscribers can replay from their last seen seq.
type Hub struct {
	cache *cache.Cache

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	seq         int64
	terminal    bool
	subscribers map[int]chan core.ProgressEvent
	nextSubID   int
}

func NewHub(c *cache.Cache) *Hub {
	return &Hub{cache: c, jobs: make(map[string]*jobState)}
}

func jobKey(userID int64, jobID string) string {
	return fmt.Sprintf("%d/%s", userID, jobID)
}

// Publish assigns the next seq to the event, appends it to the replay
// log, and fans it out to live subscribers. Events for one (user, job)
// are observed in seq order by every subscriber. After a terminal event
// the in-process state is dropped; the log serves late subscribers
// until its TTL expires.
func (h *Hub) Publish(ctx context.Context, userID int64, jobID string, ev core.ProgressEvent) {
	h.mu.Lock()
	js, ok := h.jobs[jobKey(userID, jobID)]
	if !ok {
		js = &jobState{subscribers: make(map[int]chan core.ProgressEvent)}
		h.jobs[jobKey(userID, jobID)] = js
	}
	js.seq++
	ev.Seq = js.seq

	if h.cache != nil {
		if err := h.cache.RPushJSON(ctx, cache.ProgressKey(userID, jobID), ev, logTTL); err != nil {
			logger.Debug("progress log append failed", "job", jobID, "error", err.Error())
		}
	}

	for id, ch := range js.subscribers {
		select {
		case ch <- ev:
		default:
			// Buffer full: drop this subscriber; it reconnects via replay.
			close(ch)
			delete(js.subscribers, id)
		}
	}

	if core.TerminalStatus(ev.Status) {
		js.terminal = true
		for _, ch := range js.subscribers {
			close(ch)
		}
		delete(h.jobs, jobKey(userID, jobID))
	}
	h.mu.Unlock()
}

// Subscribe delivers every event with seq > lastSeen, replaying from the
// log first and then streaming live. The returned channel closes after
// the terminal event has been delivered, on cancellation, or if the
// subscriber falls too far behind.
func (h *Hub) Subscribe(ctx context.Context, userID int64, jobID string, lastSeen int64) <-chan core.ProgressEvent {
	out := make(chan core.ProgressEvent, subscriberBuffer)

	// Register for live events before reading the log so nothing falls
	// in the gap; duplicates are filtered by seq below. A job with no
	// in-process state gets a placeholder so subscribing ahead of the
	// first event also works; if the log turns out to hold a terminal
	// event, the replay path ends the stream and drops the placeholder.
	h.mu.Lock()
	js, ok := h.jobs[jobKey(userID, jobID)]
	if !ok {
		js = &jobState{subscribers: make(map[int]chan core.ProgressEvent)}
		h.jobs[jobKey(userID, jobID)] = js
	}
	liveCh := make(chan core.ProgressEvent, subscriberBuffer)
	subID := js.nextSubID
	js.nextSubID++
	js.subscribers[subID] = liveCh
	h.mu.Unlock()

	go func() {
		defer close(out)
		delivered := lastSeen

		replay := h.readLog(ctx, userID, jobID)
		for _, ev := range replay {
			if ev.Seq <= delivered {
				continue
			}
			select {
			case out <- ev:
				delivered = ev.Seq
			case <-ctx.Done():
				h.unsubscribe(userID, jobID, subID, liveCh)
				return
			}
			if core.TerminalStatus(ev.Status) {
				h.unsubscribe(userID, jobID, subID, liveCh)
				return
			}
		}

		for {
			select {
			case ev, ok := <-liveCh:
				if !ok {
					return
				}
				if ev.Seq <= delivered {
					continue
				}
				select {
				case out <- ev:
					delivered = ev.Seq
				case <-ctx.Done():
					h.unsubscribe(userID, jobID, subID, liveCh)
					return
				}
				if core.TerminalStatus(ev.Status) {
					return
				}
			case <-ctx.Done():
				h.unsubscribe(userID, jobID, subID, liveCh)
				return
			}
		}
	}()
	return out
}

func (h *Hub) unsubscribe(userID int64, jobID string, subID int, liveCh chan core.ProgressEvent) {
	h.mu.Lock()
	if js, ok := h.jobs[jobKey(userID, jobID)]; ok {
		if ch, present := js.subscribers[subID]; present && ch == liveCh {
			delete(js.subscribers, subID)
		}
		// Drop placeholder state nobody published to.
		if len(js.subscribers) == 0 && js.seq == 0 {
			delete(h.jobs, jobKey(userID, jobID))
		}
	}
	h.mu.Unlock()
}

func (h *Hub) readLog(ctx context.Context, userID int64, jobID string) []core.ProgressEvent {
	if h.cache == nil {
		return nil
	}
	var events []core.ProgressEvent
	h.cache.LRangeJSON(ctx, cache.ProgressKey(userID, jobID), 0, -1, func(raw []byte) error {
		var ev core.ProgressEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	return events
}

// Cancel marks a job's cancellation flag in the cache. The running
// pipeline checks this flag between items and publishes the terminal
// cancelled event itself.
func (h *Hub) Cancel(ctx context.Context, userID int64, jobID string) {
	if h.cache == nil {
		return
	}
	h.cache.SetWithTTL(ctx, cancelKey(userID, jobID), "1", logTTL)
}

// Cancelled reports whether a cancel has been requested for the job.
func (h *Hub) Cancelled(ctx context.Context, userID int64, jobID string) bool {
	if h.cache == nil {
		return false
	}
	_, ok := h.cache.Get(ctx, cancelKey(userID, jobID))
	return ok
}

func cancelKey(userID int64, jobID string) string {
	return cache.ProgressKey(userID, jobID) + ":cancel"
}
