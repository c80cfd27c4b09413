package http

import (
	"fmt"
	"sync"
	"testing"
)

func TestIPRateLimiterDisabled(t *testing.T) {
	rl := newIPRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !rl.allow("10.0.0.1:1234") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestIPRateLimiterBurst(t *testing.T) {
	rl := newIPRateLimiter(60, 3)

	for i := 1; i <= 3; i++ {
		if !rl.allow("10.0.0.1:1234") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if rl.allow("10.0.0.1:1234") {
		t.Error("request past the burst admitted")
	}
	// Another IP has its own bucket.
	if !rl.allow("10.0.0.2:1234") {
		t.Error("second IP throttled by the first one's traffic")
	}
}

func TestIPRateLimiterConcurrentWithCleanup(t *testing.T) {
	rl := newIPRateLimiter(60000, 1000)

	// Handler goroutines refresh lastSeen while the cleanup pass reads it;
	// run under -race.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				rl.allow(fmt.Sprintf("10.0.%d.%d:1234", g, i%8))
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			rl.cleanup()
		}
	}()
	wg.Wait()

	// Fresh entries survive the cleanup cutoff.
	if !rl.allow("10.0.0.1:1234") {
		t.Error("recently seen IP rejected after cleanup")
	}
}
