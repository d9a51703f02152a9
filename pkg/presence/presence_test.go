package presence

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestTypingExpiresLazily(t *testing.T) {
	base := time.Now()
	clock := base
	tr := NewTracker(time.Second)
	tr.now = func() time.Time { return clock }

	tr.SetTyping("conv-1", "u2")
	if !tr.IsTyping("conv-1", "u2") {
		t.Fatal("flag should be up right after the signal")
	}

	clock = base.Add(900 * time.Millisecond)
	if !tr.IsTyping("conv-1", "u2") {
		t.Fatal("flag should survive within the TTL")
	}

	clock = base.Add(1100 * time.Millisecond)
	if tr.IsTyping("conv-1", "u2") {
		t.Fatal("flag should have expired")
	}
	if got := tr.Typing("conv-1"); got != nil {
		t.Fatalf("Typing = %v, want nil after expiry", got)
	}
}

func TestTypingRefreshAndMultiplePeers(t *testing.T) {
	base := time.Now()
	clock := base
	tr := NewTracker(time.Second)
	tr.now = func() time.Time { return clock }

	tr.SetTyping("conv-1", "u3")
	clock = base.Add(800 * time.Millisecond)
	tr.SetTyping("conv-1", "u2") // refreshing peer arrives later

	clock = base.Add(1500 * time.Millisecond)
	if got := tr.Typing("conv-1"); !reflect.DeepEqual(got, []string{"u2"}) {
		t.Fatalf("Typing = %v, want [u2]: u3 expired, u2 refreshed", got)
	}

	tr.ClearTyping("conv-1", "u2")
	if tr.IsTyping("conv-1", "u2") {
		t.Fatal("ClearTyping should drop the flag immediately")
	}
}

func TestReadMarkersAreMonotonic(t *testing.T) {
	tr := NewTracker(0)

	tr.MarkRead("conv-1", "u2", 500)
	tr.MarkRead("conv-1", "u2", 300) // stale marker, ignored
	if got := tr.LastRead("conv-1", "u2"); got != 500 {
		t.Fatalf("LastRead = %d, want 500", got)
	}

	tr.MarkRead("conv-1", "u3", 200)
	if got := tr.ReadBy("conv-1", 400); !reflect.DeepEqual(got, []string{"u2"}) {
		t.Fatalf("ReadBy(400) = %v, want [u2]", got)
	}
	if got := tr.ReadBy("conv-1", 100); !reflect.DeepEqual(got, []string{"u2", "u3"}) {
		t.Fatalf("ReadBy(100) = %v, want [u2 u3]", got)
	}
}

func TestDeliveredMarkers(t *testing.T) {
	tr := NewTracker(0)
	tr.MarkDelivered("conv-1", "u2", 900)
	if got := tr.DeliveredTo("conv-1", 900); !reflect.DeepEqual(got, []string{"u2"}) {
		t.Fatalf("DeliveredTo = %v", got)
	}
	if got := tr.DeliveredTo("conv-1", 901); got != nil {
		t.Fatalf("DeliveredTo past the watermark = %v, want nil", got)
	}
}

func TestNotifierThrottlesPerConversation(t *testing.T) {
	var mu sync.Mutex
	sent := map[string]int{}
	n := NewNotifier(80*time.Millisecond, func(conv string) {
		mu.Lock()
		sent[conv]++
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		n.Typing("conv-1")
	}
	n.Typing("conv-2") // separate conversation has its own budget

	mu.Lock()
	if sent["conv-1"] != 1 {
		t.Fatalf("conv-1 signals = %d, want 1 for a burst", sent["conv-1"])
	}
	if sent["conv-2"] != 1 {
		t.Fatalf("conv-2 signals = %d, want 1", sent["conv-2"])
	}
	mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	if !n.Typing("conv-1") {
		t.Fatal("signal after the interval should pass")
	}
	mu.Lock()
	if sent["conv-1"] != 2 {
		t.Fatalf("conv-1 signals = %d, want 2 after refill", sent["conv-1"])
	}
	mu.Unlock()
}

func TestNotifierWithoutSinkDropsEverything(t *testing.T) {
	n := NewNotifier(time.Second, nil)
	if n.Typing("conv-1") {
		t.Fatal("notifier without a sink must drop signals")
	}
}
