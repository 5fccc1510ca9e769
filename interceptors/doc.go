// Package interceptors wraps bus handlers with cross-cutting behavior.
//
// An Interceptor sees every envelope before the handler does and decides
// whether and how to call the next step. Chains run interceptors in the
// order they were added, with the handler last:
//
//	handler := interceptors.NewChain(
//		interceptors.NewLogging(logger),
//		interceptors.NewDeduplication(interceptors.NewRedisDuplicateStore(rdb, "tts"), time.Hour),
//		interceptors.NewTimeout(10*time.Second),
//		interceptors.NewCircuitBreaker("tts-engine", 5, 30*time.Second),
//	).Then(ttsHandler)
//
//	bus.Subscribe(ctx, topics.TTSRequest, handler)
//
// Errors returned by an interceptor flow back to the engine exactly like
// handler errors, so commands rejected by an open circuit are retried with
// the usual backoff.
package interceptors
