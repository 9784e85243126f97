package pubsub

import "testing"

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	ch := New[int]()
	var got []string
	ch.Subscribe(func(v int) { got = append(got, "a") })
	ch.Subscribe(func(v int) { got = append(got, "b") })

	ch.Publish(1)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("delivery order = %v, want [a b]", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ch := New[string]()
	count := 0
	unsubscribe := ch.Subscribe(func(string) { count++ })

	ch.Publish("x")
	unsubscribe()
	unsubscribe()
	ch.Publish("y")

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if ch.Len() != 0 {
		t.Fatalf("len = %d, want 0", ch.Len())
	}
}

func TestSubscribeDuringPublishAppliesNextTime(t *testing.T) {
	ch := New[int]()
	late := 0
	ch.Subscribe(func(int) {
		ch.Subscribe(func(int) { late++ })
	})

	ch.Publish(1)
	if late != 0 {
		t.Fatalf("late = %d, want 0 during first publish", late)
	}
	ch.Publish(2)
	if late != 1 {
		t.Fatalf("late = %d, want 1", late)
	}
}

func TestNilChannelPublishIsNoop(t *testing.T) {
	var ch *Channel[int]
	ch.Publish(1)
}
