// Package topics owns topic naming for the bus: the wildcard pattern grammar,
// the registry of known topics and the catalog of platform services.
//
// Topics are dot-delimited, e.g. "TTS.Request". Subscription patterns may use
// whole-segment wildcards:
//   - "*" matches exactly one segment ("TTS.*" matches "TTS.Request")
//   - "**" matches zero or more segments ("Audio.**" matches "Audio" and
//     "Audio.Stream.Microphone")
//
// Every pattern needs at least one literal segment. Patterns are compiled once
// and the same matcher serves registry validation and broker delivery.
package topics
