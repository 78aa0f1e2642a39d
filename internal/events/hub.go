package events

import (
	"sync"
	"time"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
)

// Event is a job lifecycle notification.
type Event struct {
	Type    string    `json:"type"`
	Ts      time.Time `json:"ts"`
	Seq     int64     `json:"seq"`
	JobID   string    `json:"jobId,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// Publisher publishes events. Publishing never blocks.
type Publisher interface {
	Publish(e Event)
}

// NoopPublisher drops all the events.
var NoopPublisher Publisher = noopPublisher(0)

type noopPublisher int

func (noopPublisher) Publish(Event) {}

const replayBufferSize = 512

// HubConfig is the configuration of the hub.
type HubConfig struct {
	Logger log.Logger
	// TimeNow is used to stamp events.
	TimeNow func() time.Time
}

func (c *HubConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "events.Hub"})
	if c.TimeNow == nil {
		c.TimeNow = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// Hub is an in process pub/sub of events. It keeps a bounded buffer of the last
// non log events so late subscribers can resume from a sequence.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	seq     int64
	replay  []Event
	timeNow func() time.Time
	logger  log.Logger
}

// NewHub returns a new hub.
func NewHub(cfg HubConfig) *Hub {
	_ = cfg.defaults()
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		timeNow: cfg.TimeNow,
		logger:  cfg.Logger,
	}
}

// Subscription receives the events published after it was created.
type Subscription struct {
	ch          chan Event
	includeLogs bool
	dropped     int64
}

// Events returns the event channel, closed on unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.ch }

// SubscribeOpts are the subscription options.
type SubscribeOpts struct {
	// AfterSeq returns the buffered events with a greater sequence as backlog.
	AfterSeq    int64
	IncludeLogs bool
	Buffer      int
}

// Subscribe registers a new subscription and returns the requested backlog.
func (h *Hub) Subscribe(opts SubscribeOpts) (*Subscription, []Event) {
	if opts.Buffer <= 0 {
		opts.Buffer = 128
	}
	s := &Subscription{ch: make(chan Event, opts.Buffer), includeLogs: opts.IncludeLogs}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.subs[s] = struct{}{}

	var backlog []Event
	if opts.AfterSeq > 0 {
		for _, e := range h.replay {
			if e.Seq > opts.AfterSeq {
				backlog = append(backlog, e)
			}
		}
	}

	return s, backlog
}

// Unsubscribe removes the subscription and closes its channel.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	if s.dropped > 0 {
		h.logger.Debugf("Subscription dropped %d events", s.dropped)
	}
}

// Publish stamps and fans out the event. Slow subscribers miss events.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	e.Seq = h.seq
	e.Ts = h.timeNow()

	isLog := e.Type == model.EventTypeJobLog
	if !isLog {
		h.replay = append(h.replay, e)
		if len(h.replay) > replayBufferSize {
			h.replay = h.replay[len(h.replay)-replayBufferSize:]
		}
	}

	for s := range h.subs {
		if isLog && !s.includeLogs {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped++
		}
	}
}

// LastSeq returns the sequence of the last published event.
func (h *Hub) LastSeq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}
