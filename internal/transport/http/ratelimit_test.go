package http

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	r := newRateLimiter(2)
	now := time.Unix(1_700_000_000, 0)

	if !r.allow(now) || !r.allow(now.Add(time.Second)) {
		t.Fatal("first two frames should pass")
	}
	if r.allow(now.Add(2 * time.Second)) {
		t.Fatal("third frame in the window should be limited")
	}
	if !r.allow(now.Add(time.Minute)) {
		t.Fatal("a new window should reset the counter")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	r := newRateLimiter(0)
	for j := 0; j < 1000; j++ {
		if !r.allow(time.Now()) {
			t.Fatal("zero limit must never block")
		}
	}
}
