package aggregator

import (
	"fmt"

	"github.com/avast/retry-go"
	"github.com/segmentio/encoding/json"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPConfig represents the config of the Subscriber
type AMQPConfig struct {
	Tag      string `yaml:"tag"`
	Exchange string `yaml:"exchange"`
	DSN      string `yaml:"dsn"`
	TLS      bool   `yaml:"tls"`
}

// gatewayMessage is the JSON body a BLE gateway publishes for each observed
// advertisement. Payload is the raw manufacturer-specific data, base64-coded
// per JSON convention.
type gatewayMessage struct {
	Address   string `json:"address"`
	RSSI      int    `json:"rssi"`
	CompanyID uint16 `json:"company_id"`
	Payload   []byte `json:"payload"`
}

// Subscriber consumes gateway advertisement messages from an AMQP broker and
// translates them into Advertisements for the pipeline.
type Subscriber struct {
	config         AMQPConfig
	topics         []string
	tag            string
	connection     *amqp.Connection
	channel        *amqp.Channel
	queue          *amqp.Queue
	advertisements chan Advertisement
	logger         *zap.SugaredLogger
}

// Connect with the configured AMQP broker
func (s *Subscriber) dial() error {
	var err error

	if s.config.TLS {
		s.connection, err = amqp.DialTLS(s.config.DSN, nil)
	} else {
		s.connection, err = amqp.Dial(s.config.DSN)
	}
	if err != nil {
		return fmt.Errorf("Subscriber: %v", err)
	}

	s.logger.Infof("Subscriber: connection established")

	return nil
}

// Get a Channel for the deliveries
func (s *Subscriber) getChannel() error {
	var err error

	s.channel, err = s.connection.Channel()
	if err != nil {
		s.logger.Errorf("Subscriber: %s", err)

		return fmt.Errorf("Subscriber: failed to get Channel")
	}

	s.logger.Debugf("Subscriber: got Channel")

	return nil
}

// Declare a non-durable Queue for the deliveries
func (s *Subscriber) declareQueue() (*amqp.Queue, error) {
	var queue amqp.Queue
	var err error

	queueName := fmt.Sprintf("ble-sensor-aggregator-%s", s.tag)
	s.logger.Debugf("Subscriber: declaring Queue %v", queueName)

	queue, err = s.channel.QueueDeclare(
		queueName,
		false, // durable
		true,  // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		s.logger.Errorf("Subscriber: %s", err)

		return nil, fmt.Errorf("Subscriber: failed to declare Queue")
	}

	s.logger.Debugf("Subscriber: declared Queue")

	return &queue, nil
}

// Bind the Queue to the configured topics
func (s *Subscriber) bindQueue() error {
	var err error

	if s.queue == nil {
		return fmt.Errorf("Subscriber: Queue not declared")
	}

	for _, topic := range s.topics {
		s.logger.Debugf("Subscriber: binding topic to Exchange (key: %q)", topic)

		err = s.channel.QueueBind(
			s.queue.Name,      // name
			topic,             // key
			s.config.Exchange, // exchange
			false,             // noWait
			nil,               // arguments
		)
		if err != nil {
			s.logger.Errorf("Subscriber: %s", err)

			return fmt.Errorf("Subscriber: failed to bind Queue")
		}
	}

	return nil
}

// Delete the declared Queue if there a no more consumers
func (s *Subscriber) deleteQueue() error {
	name := s.queue.Name

	_, err := s.channel.QueueDelete(name, true, false, false)

	if err != nil {
		s.logger.Errorf("Subscriber: %s", err)

		return fmt.Errorf("Subscriber: failed to delete Queue")
	}

	return nil
}

// consume translates gateway deliveries into Advertisements until the
// delivery channel closes. Malformed messages are skipped, not fatal.
func (s *Subscriber) consume(deliveries <-chan amqp.Delivery) {
	defer close(s.advertisements)

	for d := range deliveries {
		var m gatewayMessage
		if err := json.Unmarshal(d.Body, &m); err != nil {
			s.logger.Debugf("Subscriber: skipping malformed message: %s", err)
			continue
		}

		if m.Address == "" {
			// Older gateways omit the address from the body; fall back to the
			// routing key.
			address, err := NewTopic(d.RoutingKey).GetDeviceAddress()
			if err != nil {
				s.logger.Debugf("Subscriber: %s", err)
				continue
			}
			m.Address = address
		}

		s.advertisements <- Advertisement{
			Address:   m.Address,
			RSSI:      m.RSSI,
			CompanyID: m.CompanyID,
			Payload:   m.Payload,
		}
	}
}

// Subscribe to the topics defined in the AMQPConfig
func (s *Subscriber) Subscribe() (<-chan Advertisement, error) {
	err := s.dial()
	if err != nil {
		return nil, err
	}

	err = retry.Do(
		func() error {
			err = s.getChannel()
			if err != nil {
				return err
			}

			s.queue, err = s.declareQueue()
			if err != nil {
				return err
			}

			err = s.bindQueue()
			if err != nil {
				return err
			}

			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := s.channel.Consume(
		s.queue.Name, // queue
		s.tag,        // consumer
		true,         // autoAck
		false,        // exclusive
		false,        // noLocal
		false,        // noWait
		nil,          // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("Subscriber: failed to consume: %v", err)
	}

	go s.consume(deliveries)

	return s.advertisements, nil
}

// Shutdown the Subscriber
func (s *Subscriber) Shutdown() error {
	s.logger.Infof("Subscriber: shutting down")

	if s.connection == nil {
		s.logger.Infof("Subscriber: shutdown OK")

		return nil
	}

	err := s.deleteQueue()
	if err != nil {
		return err
	}

	if err := s.connection.Close(); err != nil {
		return fmt.Errorf("AMQP connection close error: %s", err)
	}

	s.logger.Infof("Subscriber: shutdown OK")

	return nil
}

// NewSubscriber creates a new Subscriber
func NewSubscriber(config AMQPConfig, topics []string, logger *zap.SugaredLogger) *Subscriber {
	return &Subscriber{
		config:         config,
		topics:         topics,
		tag:            config.Tag,
		advertisements: make(chan Advertisement),
		logger:         logger,
	}
}
