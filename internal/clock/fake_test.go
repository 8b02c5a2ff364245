package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(1500 * time.Millisecond)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("unexpected order after first advance: %v", order)
	}
	c.Advance(2 * time.Second)
	if len(order) != 3 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order: %v", order)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending=%d", c.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("first stop should report true")
	}
	if timer.Stop() {
		t.Fatalf("second stop should report false")
	}
	c.Advance(time.Hour)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeStopAfterFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	if timer.Stop() {
		t.Fatalf("stop after fire should report false")
	}
}

func TestFakeCallbackMayScheduleAndStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var second Timer
	fired := 0
	c.AfterFunc(time.Second, func() {
		fired++
		second.Stop()
		c.AfterFunc(0, func() { fired++ })
	})
	second = c.AfterFunc(2*time.Second, func() { fired += 10 })
	c.Advance(5 * time.Second)
	if fired != 2 {
		t.Fatalf("fired=%d", fired)
	}
	if !c.Now().Equal(time.Unix(5, 0)) {
		t.Fatalf("unexpected now: %v", c.Now())
	}
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(10*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("real timer did not fire")
	}
}
