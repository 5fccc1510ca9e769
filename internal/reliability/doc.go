// Package reliability holds the retry and dead-letter machinery shared by the
// bus engines.
//
// Every engine computes command redelivery delays with the same policy:
//
//	delay(attempts) = min(InitialInterval * Multiplier^attempts, MaxInterval)
//
// where attempts is the number of failed deliveries so far. With the bus
// defaults (250ms, x2, 10s cap) the first retry waits 500ms.
//
// Commands that exhaust their attempts are recorded in a DeadLetterStore.
package reliability
