// Package jobqueue implements messaging.Bus on Redis.
//
// Commands are asynq tasks. Each subscribed base gets its own asynq server
// consuming four strictly ordered queues, one per priority band:
//
//	<base>:critical  priority 0-24
//	<base>:high      priority 25-49
//	<base>:default   priority 50-74
//	<base>:low       priority 75-99
//
// Failed tasks are retried by asynq with the shared command backoff and are
// archived once their attempts run out, where they stay inspectable.
//
// Wildcard subscriptions consume the queues of their literal prefix under
// the "wc:" namespace ("TTS.*" consumes wc:TTS:<band>) and filter in
// process. Publishers learn about those prefixes from a Redis set and
// enqueue each command on the exact topic queue and on every matching
// prefix queue. Every command under a prefix is fetched by its wildcard
// consumers, including ones they then discard. Processes subscribing
// different wildcard patterns with the same prefix still compete for one
// set of queues, and a process that fetches a command none of its patterns
// match completes the task without handling it; give such patterns
// distinct prefixes.
//
// Exact subscriptions never share queues with wildcard ones, so an exact
// topic and a wildcard prefix of the same name do not steal each other's
// commands.
//
// Events travel over Redis Pub/Sub and are best effort. A "**" subscription
// also receives its literal prefix, e.g. "TTS.**" gets events on "TTS". Request replies are
// pushed onto a short-lived Redis list that the requester pops with BLPOP.
package jobqueue
