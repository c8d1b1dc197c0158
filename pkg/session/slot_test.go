package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSlotDeliver(t *testing.T) {
	slot := NewSlot[int]("test")

	p, err := slot.Acquire(func(v int) bool { return v%2 == 0 })
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if slot.Deliver(3) {
		t.Error("Deliver(3) consumed a value the matcher rejects")
	}
	if !slot.Deliver(4) {
		t.Fatal("Deliver(4) was not consumed")
	}
	if slot.Deliver(6) {
		t.Error("Deliver(6) consumed after the slot completed")
	}

	got, err := p.Wait(context.Background())
	if err != nil || got != 4 {
		t.Errorf("Wait() = %d, %v, want 4", got, err)
	}
	if slot.Busy() {
		t.Error("slot still busy after delivery")
	}
}

func TestSlotAlreadyPending(t *testing.T) {
	slot := NewSlot[string]("readback")

	first, err := slot.Acquire(nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := slot.Acquire(nil); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second Acquire() error = %v, want ErrAlreadyPending", err)
	}

	slot.Deliver("done")
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if _, err := slot.Acquire(nil); err != nil {
		t.Errorf("Acquire() after completion error = %v", err)
	}
}

func TestSlotTimeout(t *testing.T) {
	slot := NewSlot[int]("register read")
	p, _ := slot.Acquire(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want it to wrap DeadlineExceeded", err)
	}
	if slot.Busy() {
		t.Error("slot still busy after timeout")
	}
	if slot.Deliver(1) {
		t.Error("late delivery was consumed")
	}
}

func TestSlotFailAndCancel(t *testing.T) {
	slot := NewSlot[int]("firmware")
	p, _ := slot.Acquire(nil)

	boom := errors.New("boom")
	if !slot.Fail(boom) {
		t.Fatal("Fail() found no pending caller")
	}
	if _, err := p.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait() error = %v, want boom", err)
	}

	p2, _ := slot.Acquire(nil)
	p2.Cancel()
	p2.Cancel()
	if slot.Busy() {
		t.Error("slot busy after Cancel")
	}
	if slot.Fail(boom) {
		t.Error("Fail() on empty slot reported a caller")
	}
}
