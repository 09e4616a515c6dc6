// Package stream pushes activity records to connected observers over
// Server-Sent Events. Observers are anonymous operator dashboards; there is
// no per-user routing, every observer sees every record.
package stream

import (
	"encoding/json"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldserve_backend/internal/activity"
	"fieldserve_backend/platform/logger"
)

// FrameType distinguishes new records from updates to earlier ones.
type FrameType string

const (
	FrameNotification       FrameType = "notification"
	FrameNotificationUpdate FrameType = "notification_update"
)

// Frame is the wire payload pushed to observers.
type Frame struct {
	Type   FrameType       `json:"type"`
	Record activity.Record `json:"record"`
}

type observer struct {
	id     uuid.UUID
	frames chan Frame
}

// Broadcaster manages observer connections and fans frames out to them.
// A slow observer whose buffer is full is dropped on the next broadcast
// rather than blocking the publisher.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[uuid.UUID]*observer
	log       *logger.Logger
}

// New creates a broadcaster with no observers.
func New(log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		observers: make(map[uuid.UUID]*observer),
		log:       log,
	}
}

func (b *Broadcaster) add(o *observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[o.id] = o
}

func (b *Broadcaster) remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.observers[id]; ok {
		delete(b.observers, id)
		close(o.frames)
	}
}

// ObserverCount reports how many connections are currently registered.
func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Broadcast sends a frame to every registered observer. Observers that
// cannot keep up are unregistered instead of retried.
//
// Sends happen under the read lock: remove and Close take the write lock
// before closing a channel, so a send can never race a close. The sends
// are non-blocking, so holding the lock is cheap.
func (b *Broadcaster) Broadcast(frame Frame) {
	b.mu.RLock()
	var stalled []uuid.UUID
	for _, o := range b.observers {
		select {
		case o.frames <- frame:
		default:
			stalled = append(stalled, o.id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stalled {
		b.log.Warn("dropping stalled stream observer", "observer_id", id)
		b.remove(id)
	}
}

// BroadcastRecord wraps a freshly recorded activity row in a notification
// frame and fans it out. Satisfies activity.Broadcaster.
func (b *Broadcaster) BroadcastRecord(rec activity.Record) {
	b.Broadcast(Frame{Type: FrameNotification, Record: rec})
}

// Handler returns the gin handler that upgrades a request to an SSE stream.
func (b *Broadcaster) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		o := &observer{
			id:     uuid.New(),
			frames: make(chan Frame, 32),
		}
		b.add(o)
		defer b.remove(o.id)

		c.SSEvent("connected", gin.H{"observerId": o.id})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case frame, ok := <-o.frames:
				if !ok {
					return
				}
				data, err := json.Marshal(frame)
				if err != nil {
					b.log.Error("marshal stream frame", "error", err)
					continue
				}
				c.SSEvent(string(frame.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close unregisters every observer, ending their streams.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, o := range b.observers {
		close(o.frames)
		delete(b.observers, id)
	}
}
