package fanout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	ch := NewChannel(16)
	defer ch.Close()

	a := ch.Subscribe()
	b := ch.Subscribe()

	for i := 0; i < 5; i++ {
		n := ch.Publish([]byte{byte(i)})
		if n != 2 {
			t.Fatalf("Publish delivered to %d subscribers, want 2", n)
		}
	}

	ctx := context.Background()
	for _, sub := range []*Subscription{a, b} {
		for i := 0; i < 5; i++ {
			f, dropped, err := sub.Next(ctx)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if dropped != 0 {
				t.Errorf("unexpected dropped count %d", dropped)
			}
			if f.Data[0] != byte(i) {
				t.Errorf("frame %d: got payload %d", i, f.Data[0])
			}
			if f.Seq != uint64(i+1) {
				t.Errorf("frame %d: got seq %d, want %d", i, f.Seq, i+1)
			}
		}
	}
}

func TestDropOldestReportsLag(t *testing.T) {
	ch := NewChannel(4)
	defer ch.Close()

	sub := ch.Subscribe()

	// 10 frames into a 4-slot ring: the 6 oldest are evicted.
	for i := 0; i < 10; i++ {
		ch.Publish([]byte{byte(i)})
	}

	f, dropped, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dropped != 6 {
		t.Errorf("dropped = %d, want 6", dropped)
	}
	if f.Data[0] != 6 {
		t.Errorf("first surviving frame payload = %d, want 6", f.Data[0])
	}
	if f.Seq != 7 {
		t.Errorf("first surviving frame seq = %d, want 7", f.Seq)
	}

	// The counter resets after being reported.
	f, dropped, err = sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d after reset, want 0", dropped)
	}
	if f.Data[0] != 7 {
		t.Errorf("second frame payload = %d, want 7", f.Data[0])
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	ch := NewChannel(2)
	defer ch.Close()

	fast := ch.Subscribe()
	slow := ch.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		for i := 0; i < 100; i++ {
			f, _, err := fast.Next(ctx)
			if err != nil {
				t.Errorf("fast Next: %v", err)
				return
			}
			if f.Data[0] != byte(i) {
				t.Errorf("fast frame %d: payload %d", i, f.Data[0])
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		ch.Publish([]byte{byte(i)})
		// Let the fast reader keep up without overflowing a 2-slot ring.
		time.Sleep(time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}

	// The slow subscriber resumes and learns exactly how far behind it is.
	_, dropped, err := slow.Next(context.Background())
	if err != nil {
		t.Fatalf("slow Next: %v", err)
	}
	if dropped != 98 {
		t.Errorf("slow dropped = %d, want 98", dropped)
	}
}

func TestCloseDrainsThenErrClosed(t *testing.T) {
	ch := NewChannel(8)
	sub := ch.Subscribe()

	ch.Publish([]byte("one"))
	ch.Publish([]byte("two"))
	ch.Close()

	ctx := context.Background()
	for _, want := range []string{"one", "two"} {
		f, _, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if string(f.Data) != want {
			t.Errorf("got %q, want %q", f.Data, want)
		}
	}

	_, _, err := sub.Next(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Next after drain = %v, want ErrClosed", err)
	}

	// Publish after close is a no-op.
	if n := ch.Publish([]byte("late")); n != 0 {
		t.Errorf("Publish after Close delivered to %d", n)
	}
}

func TestPublishAfterAllCancelled(t *testing.T) {
	ch := NewChannel(4)
	defer ch.Close()

	sub := ch.Subscribe()
	sub.Cancel()

	if n := ch.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount = %d after Cancel, want 0", n)
	}
	if n := ch.Publish([]byte("nobody home")); n != 0 {
		t.Errorf("Publish with no subscribers delivered to %d", n)
	}

	_, _, err := sub.Next(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Next on cancelled subscription = %v, want ErrClosed", err)
	}
}

func TestNextHonorsContext(t *testing.T) {
	ch := NewChannel(4)
	defer ch.Close()

	sub := ch.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := sub.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want context.DeadlineExceeded", err)
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	ch := NewChannel(4)
	ch.Close()

	sub := ch.Subscribe()
	_, _, err := sub.Next(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Next = %v, want ErrClosed", err)
	}
}

func TestConcurrentPublishAndRead(t *testing.T) {
	ch := NewChannel(1000)

	const frames = 500
	const readers = 8

	errs := make(chan error, readers)
	for r := 0; r < readers; r++ {
		sub := ch.Subscribe()
		go func() {
			ctx := context.Background()
			var lastSeq uint64
			got := 0
			var missed uint64
			for {
				f, dropped, err := sub.Next(ctx)
				if errors.Is(err, ErrClosed) {
					missed += dropped
					if got+int(missed) != frames {
						errs <- fmt.Errorf("got %d frames + %d missed, want %d total", got, missed, frames)
						return
					}
					errs <- nil
					return
				}
				if err != nil {
					errs <- err
					return
				}
				if f.Seq <= lastSeq {
					errs <- fmt.Errorf("seq went backwards: %d after %d", f.Seq, lastSeq)
					return
				}
				lastSeq = f.Seq
				got++
				missed += dropped
			}
		}()
	}

	for i := 0; i < frames; i++ {
		ch.Publish([]byte{byte(i)})
	}
	ch.Close()

	for r := 0; r < readers; r++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}
