package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchanges and queues shared by every bus process
const (
	EventsExchange     = "voicebus.events"
	CommandsExchange   = "voicebus.commands"
	DeadLetterExchange = "voicebus.dlx"
	DeadLetterQueue    = "voicebus.dead-letter"

	// MaxPriority is the x-max-priority of command queues
	MaxPriority = 10
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared. An empty name lets the
// broker generate one.
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is a set of declarations applied together
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// BusTopology returns the exchanges and dead-letter queue of the bus
func BusTopology() Topology {
	return Topology{
		Exchanges: []ExchangeDeclaration{
			{Name: EventsExchange, Type: amqp.ExchangeTopic, Durable: true},
			{Name: CommandsExchange, Type: amqp.ExchangeTopic, Durable: true},
			{Name: DeadLetterExchange, Type: amqp.ExchangeDirect, Durable: true},
		},
		Queues: []QueueDeclaration{
			{Name: DeadLetterQueue, Durable: true},
		},
		Bindings: []Binding{
			{Queue: DeadLetterQueue, Exchange: DeadLetterExchange, RoutingKey: DeadLetterQueue},
		},
	}
}

// CommandQueue declares the durable priority queue consuming pattern's
// routing key, dead-lettering into the bus dead-letter queue.
func CommandQueue(name string) QueueDeclaration {
	return QueueDeclaration{
		Name:    name,
		Durable: true,
		Arguments: amqp.Table{
			"x-max-priority":            int32(MaxPriority),
			"x-dead-letter-exchange":    DeadLetterExchange,
			"x-dead-letter-routing-key": DeadLetterQueue,
		},
	}
}

// EventQueue declares a broker-named queue that lives as long as its consumer
func EventQueue() QueueDeclaration {
	return QueueDeclaration{Exclusive: true, AutoDelete: true}
}

// TopologyManager applies declarations through the channel pool
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// Declare applies exchanges, then queues, then bindings
func (tm *TopologyManager) Declare(ctx context.Context, topology Topology) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		for _, ex := range topology.Exchanges {
			if err := declareExchange(ch, ex); err != nil {
				return err
			}
		}
		for _, q := range topology.Queues {
			if _, err := declareQueue(ch, q); err != nil {
				return err
			}
		}
		for _, b := range topology.Bindings {
			if err := bindQueue(ch, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeclareQueue declares q and returns its broker state
func (tm *TopologyManager) DeclareQueue(ctx context.Context, q QueueDeclaration) (amqp.Queue, error) {
	var queue amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		queue, err = declareQueue(ch, q)
		return err
	})
	return queue, err
}

// Bind creates a binding
func (tm *TopologyManager) Bind(ctx context.Context, b Binding) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return bindQueue(ch, b)
	})
}

// QueueDepth returns the number of ready messages in a durable queue
func (tm *TopologyManager) QueueDepth(ctx context.Context, name string) (int, error) {
	var depth int
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
		if err != nil {
			return &TopologyError{Component: "queue", Name: name, Op: "inspect", Err: err}
		}
		depth = q.Messages
		return nil
	})
	return depth, err
}

func declareExchange(ch *amqp.Channel, ex ExchangeDeclaration) error {
	err := ch.ExchangeDeclare(ex.Name, ex.Type, ex.Durable, ex.AutoDelete, false, false, ex.Arguments)
	if err != nil {
		return &TopologyError{Component: "exchange", Name: ex.Name, Op: "declare", Err: err}
	}
	return nil
}

func declareQueue(ch *amqp.Channel, q QueueDeclaration) (amqp.Queue, error) {
	queue, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments)
	if err != nil {
		return queue, &TopologyError{Component: "queue", Name: q.Name, Op: "declare", Err: err}
	}
	return queue, nil
}

func bindQueue(ch *amqp.Channel, b Binding) error {
	err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, b.Arguments)
	if err != nil {
		return &TopologyError{Component: "binding", Name: b.Queue + "->" + b.Exchange, Op: "create", Err: err}
	}
	return nil
}
