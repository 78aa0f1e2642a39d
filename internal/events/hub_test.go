package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/events"
	"github.com/slok/xferd/internal/model"
)

func TestHubPublish(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := events.NewHub(events.HubConfig{TimeNow: func() time.Time { return now }})

	all, _ := h.Subscribe(events.SubscribeOpts{IncludeLogs: true, Buffer: 10})
	noLogs, _ := h.Subscribe(events.SubscribeOpts{Buffer: 10})

	h.Publish(events.Event{Type: model.EventTypeJobProgress, JobID: "j1"})
	h.Publish(events.Event{Type: model.EventTypeJobLog, JobID: "j1", Payload: model.JobLogEvent{Level: "info", Message: "hi"}})
	h.Publish(events.Event{Type: model.EventTypeJobCompleted, JobID: "j1"})

	got := []events.Event{<-all.Events(), <-all.Events(), <-all.Events()}
	assert.Equal(int64(1), got[0].Seq)
	assert.Equal(int64(2), got[1].Seq)
	assert.Equal(int64(3), got[2].Seq)
	assert.Equal(now, got[0].Ts)

	e1, e2 := <-noLogs.Events(), <-noLogs.Events()
	assert.Equal(model.EventTypeJobProgress, e1.Type)
	assert.Equal(model.EventTypeJobCompleted, e2.Type)

	// Late subscribers get the non log backlog.
	_, backlog := h.Subscribe(events.SubscribeOpts{AfterSeq: 1})
	require.Len(backlog, 1)
	assert.Equal(int64(3), backlog[0].Seq)

	h.Unsubscribe(all)
	_, ok := <-all.Events()
	assert.False(ok)
	assert.Equal(int64(3), h.LastSeq())
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := events.NewHub(events.HubConfig{})
	s, _ := h.Subscribe(events.SubscribeOpts{Buffer: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(events.Event{Type: model.EventTypeJobProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked")
	}
	assert.Len(t, s.Events(), 1)
}

func TestHubReplayBufferIsBounded(t *testing.T) {
	h := events.NewHub(events.HubConfig{})
	for i := 0; i < 600; i++ {
		h.Publish(events.Event{Type: model.EventTypeJobProgress})
	}

	_, backlog := h.Subscribe(events.SubscribeOpts{AfterSeq: 1})
	require.Len(t, backlog, 512)
	assert.Equal(t, int64(89), backlog[0].Seq)
}
