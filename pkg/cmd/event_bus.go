// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/hierarchy-killer/pkg/channels/gochannel"
	"github.com/dukex/hierarchy-killer/pkg/channels/kafka"
	"github.com/dukex/hierarchy-killer/pkg/eventbus"
)

const serviceName = "hierarchy-killer"

var ErrUnsupportedEventBus = errors.New("unsupported event bus provider")

// EventBusOptions selects the transport of the bus.
type EventBusOptions struct {
	Provider string
	Brokers  string
	Topic    string
}

// NewEventBus creates a bus consuming opts.Topic over the selected transport.
func NewEventBus(opts EventBusOptions, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	wmLogger := watermill.NewSlogLogger(logger)

	switch opts.Provider {
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wmLogger, serviceName, kafka.ParseBrokers(opts.Brokers))
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}
	case "gochannel":
		pub, sub, err = gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedEventBus, opts.Provider)
	}

	return eventbus.NewWatermillEventBus(pub, sub, opts.Topic, logger), nil
}
