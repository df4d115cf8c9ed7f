package activity

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryPublisherRecentNewestFirst(t *testing.T) {
	publisher := NewMemoryPublisher(10)
	for i := 0; i < 3; i++ {
		err := publisher.Publish(context.Background(), Event{
			RunID: fmt.Sprintf("r%d", i),
			Kind:  KindRunStarted,
		})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	events := publisher.Recent(2)
	if len(events) != 2 {
		t.Fatalf("unexpected event count: %d", len(events))
	}
	if events[0].RunID != "r2" || events[1].RunID != "r1" {
		t.Fatalf("events must be newest first: %+v", events)
	}
}

func TestMemoryPublisherEvictsOldest(t *testing.T) {
	publisher := NewMemoryPublisher(2)
	for i := 0; i < 4; i++ {
		_ = publisher.Publish(context.Background(), Event{RunID: fmt.Sprintf("r%d", i)})
	}

	events := publisher.Recent(0)
	if len(events) != 2 {
		t.Fatalf("unexpected event count: %d", len(events))
	}
	if events[0].RunID != "r3" || events[1].RunID != "r2" {
		t.Fatalf("oldest events must be evicted: %+v", events)
	}
}
