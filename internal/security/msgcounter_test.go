package security

import (
	"testing"
	"time"
)

func TestMsgCounterGuard_FirstMarkSucceeds(t *testing.T) {
	g := NewMsgCounterGuard(time.Minute, nil)
	if !g.MarkAnswered(42) {
		t.Error("expected first MarkAnswered(42) to succeed")
	}
}

func TestMsgCounterGuard_SecondMarkWithinWindowFails(t *testing.T) {
	g := NewMsgCounterGuard(time.Minute, nil)
	g.MarkAnswered(42)
	if g.MarkAnswered(42) {
		t.Error("expected second MarkAnswered(42) within window to fail (unmatched reply)")
	}
}

func TestMsgCounterGuard_MarkSucceedsAfterWindowExpires(t *testing.T) {
	g := NewMsgCounterGuard(10*time.Millisecond, nil)
	g.MarkAnswered(7)
	time.Sleep(20 * time.Millisecond)
	if !g.MarkAnswered(7) {
		t.Error("expected MarkAnswered(7) to succeed once the window has expired")
	}
}

func TestMsgCounterGuard_MaxSizeRejectsWhenFull(t *testing.T) {
	g := NewMsgCounterGuardWithMaxSize(time.Minute, 2, nil)
	g.MarkAnswered(1)
	g.MarkAnswered(2)
	if g.MarkAnswered(3) {
		t.Error("expected MarkAnswered(3) to be rejected once at capacity")
	}
}

func TestMsgCounterGuard_Clear(t *testing.T) {
	g := NewMsgCounterGuard(time.Minute, nil)
	g.MarkAnswered(1)
	g.Clear()
	if g.Size() != 0 {
		t.Errorf("Size() after Clear() = %d, want 0", g.Size())
	}
}
