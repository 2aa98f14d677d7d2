package data

import (
	"context"
	"errors"

	"github.com/cyberkid042/distributed-job-queue/data/messaging"
	"github.com/cyberkid042/distributed-job-queue/metrics"
)

// ErrNoChannel is returned when no messaging backend is configured.
var ErrNoChannel = errors.New("messaging channel is not available")

// Channel returns the configured queue channel wrapped with metrics.
func (d *Data) Channel() messaging.Channel {
	if d.channel == nil {
		return nil
	}
	return &observedChannel{
		inner:     d.channel,
		backend:   d.backend,
		collector: d.collector,
	}
}

// Publish sends a message through the configured channel.
func (d *Data) Publish(ctx context.Context, topic string, key, value []byte) error {
	if d.channel == nil {
		return ErrNoChannel
	}
	err := d.channel.Publish(ctx, topic, key, value)
	d.collector.MQPublish(d.backend, err)
	return err
}

// Subscribe starts consuming messages through the configured channel.
func (d *Data) Subscribe(ctx context.Context, topic, group string, handler messaging.Handler) error {
	if d.channel == nil {
		return ErrNoChannel
	}
	wrapped := func(ctx context.Context, msg *messaging.Message) error {
		err := handler(ctx, msg)
		d.collector.MQConsume(d.backend, err)
		return err
	}
	return d.channel.Subscribe(ctx, topic, group, wrapped)
}

// observedChannel decorates a channel with metrics collection.
type observedChannel struct {
	inner     messaging.Channel
	backend   string
	collector metrics.Collector
}

func (c *observedChannel) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := c.inner.Publish(ctx, topic, key, value)
	c.collector.MQPublish(c.backend, err)
	return err
}

func (c *observedChannel) Subscribe(ctx context.Context, topic, group string, handler messaging.Handler) error {
	wrapped := func(ctx context.Context, msg *messaging.Message) error {
		err := handler(ctx, msg)
		c.collector.MQConsume(c.backend, err)
		return err
	}
	return c.inner.Subscribe(ctx, topic, group, wrapped)
}

func (c *observedChannel) Close() error {
	return c.inner.Close()
}
