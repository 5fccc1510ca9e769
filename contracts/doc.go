// Package contracts defines the envelope protocol shared by every voicebus engine.
//
// This package defines:
//   - Envelope: the transport wrapper carrying identity, routing and retry state
//   - Kind: the message taxonomy (event, command, query)
//   - QueryResult: the uniform reply to a query
//   - the error taxonomy returned by the bus (validation, saturation, shutdown)
//
// Payloads are opaque to the bus. Engines that cross a process boundary carry
// them as json.RawMessage; DecodePayload converts either form into a typed value.
package contracts
