package main

import "time"

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

const (
	txQueueSize = 1024 // capacity of the async bus TX queue
	// Backoff bounds for the SPI interrupt poll loop when register
	// exchanges start failing (unplugged adapter, wedged chip).
	pollBackoffMin = 20 * time.Millisecond
	pollBackoffMax = 500 * time.Millisecond
)
