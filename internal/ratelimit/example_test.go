package ratelimit_test

import (
	"context"
	"fmt"
	"time"

	"faultline/internal/ratelimit"
)

func ExampleNewThrottle() {
	// At most one send every 10ms
	throttle := ratelimit.NewThrottle(10 * time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := throttle.Wait(ctx); err != nil {
			fmt.Println("Context cancelled")
			return
		}
	}

	fmt.Printf("3 sends took at least 20ms: %v\n", time.Since(start) >= 20*time.Millisecond)
	// Output: 3 sends took at least 20ms: true
}

func ExampleSleep() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Backoff is abandoned as soon as the run is cancelled
	err := ratelimit.Sleep(ctx, 500*time.Millisecond)
	fmt.Println(err)
	// Output: context canceled
}
