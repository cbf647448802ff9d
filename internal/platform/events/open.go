package events

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Backends accepted by Open.
const (
	BackendLog      = "log"
	BackendKafka    = "kafka"
	BackendRabbitMQ = "rabbitmq"
)

// Options selects and configures a publisher backend.
type Options struct {
	Backend      string
	KafkaBrokers string
	KafkaTopic   string
	RabbitURL    string
	RabbitQueue  string
}

// Open returns the publisher for o.Backend. An empty backend means log.
func Open(o Options, logger zerolog.Logger) (Publisher, error) {
	switch o.Backend {
	case "", BackendLog:
		return NewLogPublisher(logger), nil
	case BackendKafka:
		if o.KafkaBrokers == "" {
			return nil, fmt.Errorf("kafka backend requires brokers")
		}
		return NewKafkaPublisher(o.KafkaBrokers, o.KafkaTopic), nil
	case BackendRabbitMQ:
		if o.RabbitURL == "" {
			return nil, fmt.Errorf("rabbitmq backend requires a url")
		}
		return NewRabbitPublisher(o.RabbitURL, o.RabbitQueue)
	}
	return nil, fmt.Errorf("unknown events backend %q", o.Backend)
}
