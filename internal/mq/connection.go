package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const heartbeat = 10 * time.Second

// Connection is the broker connection events are published on
type Connection struct {
	conn   *amqp.Connection
	closed chan *amqp.Error
}

// NewConnection dials the broker, naming the connection after the service so
// it can be told apart in the management UI. An unexpected close is logged;
// publishing then fails until the process restarts.
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url, serviceName string) (*Connection, error) {
	properties := amqp.NewConnectionProperties()
	properties.SetClientConnectionName(serviceName)

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: properties,
	})
	if err != nil {
		logger.Error("rabbitmq connection failed", zap.Error(err))
		return nil, fmt.Errorf("[RABBITMQ] cannot connect, check RABBITMQ_URL or unset it to run without events: %w", err)
	}

	c := &Connection{
		conn:   conn,
		closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if amqpErr, ok := <-c.closed; ok && amqpErr != nil {
					logger.Error("rabbitmq connection lost", zap.Error(amqpErr))
				}
			}()
			logger.Info("rabbitmq connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if c.conn.IsClosed() {
				return nil
			}
			if err := c.conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return c, nil
}

// Channel opens a channel on the connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	if c.conn.IsClosed() {
		return nil, amqp.ErrClosed
	}
	return c.conn.Channel()
}
