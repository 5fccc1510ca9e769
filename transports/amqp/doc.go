// Package amqp implements messaging.Bus on RabbitMQ.
//
// Events go to the voicebus.events topic exchange and reach every
// subscription through its own exclusive queue. Commands go to the
// voicebus.commands topic exchange; each subscribed pattern owns a durable
// priority queue named voicebus.cmd.<pattern>, so processes subscribing to
// the same pattern compete for its commands.
//
// Bus wildcards map onto AMQP ones: "*" stays "*" and "**" becomes "#".
//
// A failed command is republished to its own queue with an incremented
// x-attempts header once the backoff has elapsed. Exhausted or permanently
// failed commands are published to the dead-letter exchange.
package amqp
