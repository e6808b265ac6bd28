package memorybus

import (
	"testing"
	"time"
)

func TestBus_PrefixFilter(t *testing.T) {
	b := New()
	jobs, cancel := b.Subscribe("job.")
	defer cancel()
	all, cancelAll := b.Subscribe()
	defer cancelAll()

	b.Publish("episode.downloaded", []byte(`{}`))
	b.Publish("job.completed", []byte(`{"id":"1"}`))

	select {
	case evt := <-jobs:
		if evt.Topic != "job.completed" {
			t.Fatalf("expected job.completed, got %s", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for job event")
	}
	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber: want 2 events, got %d", got)
	}
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	b := NewWithBuffer(1)
	_, cancel := b.Subscribe()
	defer cancel()

	b.Publish("a", nil)
	b.Publish("b", nil)
	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", b.Dropped())
	}
}

func TestBus_CloseEndsSubscriptions(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	cancel()
	b.Publish("after", nil)

	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after close must return a closed channel")
	}
}
