// Package rabbitmq wraps amqp091-go with the pieces the AMQP bus needs: a
// reconnecting ConnectionManager, a ChannelPool of confirm-mode channels,
// a confirming Publisher, a Consumer with one dedicated channel per queue,
// and the exchange and queue layout of the bus.
package rabbitmq
