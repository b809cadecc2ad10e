package testutil

import (
	"testing"
	"time"
)

func TestAtOffsets(t *testing.T) {
	if got := At(0); got.UnixMilli() != Epoch {
		t.Errorf("At(0) = %v", got)
	}
	if got := At(1_500); got.UnixMilli() != Epoch+1_500 {
		t.Errorf("At(1500) = %v", got)
	}
	if At(0).Location() != time.UTC {
		t.Error("instants must be UTC")
	}
}

func TestClockAdvance(t *testing.T) {
	c := NewClock()
	if !c.Now().Equal(At(0)) {
		t.Errorf("fresh clock at %v", c.Now())
	}
	c.Advance(2 * time.Second)
	if !c.Now().Equal(At(2_000)) {
		t.Errorf("after advance: %v", c.Now())
	}
	if !c.At(500).Equal(At(500)) {
		t.Error("At must not depend on the clock position")
	}
	c.Reset()
	if !c.Now().Equal(At(0)) {
		t.Errorf("after reset: %v", c.Now())
	}
}
