package mw

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter(rate.Limit(1), 2, time.Minute)
	defer l.Stop()

	if !l.allow("1.2.3.4") {
		t.Error("first request should pass")
	}
	if !l.allow("1.2.3.4") {
		t.Error("second request within burst should pass")
	}
	if l.allow("1.2.3.4") {
		t.Error("third request should be rejected")
	}
	if !l.allow("5.6.7.8") {
		t.Error("a different client has its own bucket")
	}
}

func TestLimiterStopIdempotent(t *testing.T) {
	l := NewLimiter(rate.Limit(1), 1, time.Minute)
	l.Stop()
	l.Stop()
}

func TestClientIP(t *testing.T) {
	if got := clientIP("10.0.0.1:5432"); got != "10.0.0.1" {
		t.Errorf("clientIP = %q, want 10.0.0.1", got)
	}
	if got := clientIP("10.0.0.1"); got != "10.0.0.1" {
		t.Errorf("clientIP without port = %q, want 10.0.0.1", got)
	}
}
