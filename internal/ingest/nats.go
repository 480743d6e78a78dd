// Package ingest consumes alert reports published to NATS JetStream and
// feeds them into the alert manager.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"alertdesk/internal/app"
	"alertdesk/internal/config"
	"alertdesk/internal/metrics"
)

const reportStreamMaxAge = 24 * time.Hour

// NATSSubscriber consumes reports via a JetStream queue consumer.
// Params: NATS connection and queue subscription bound to the sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates the JetStream queue consumer for reports.
// Params: ingest NATS config, connection URLs, alert manager, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, urls []string, alerts *app.AlertManager, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(urls, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logger.With("component", "ingest"),
	}
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		var input app.CreateAlertInput
		if decodeErr := json.Unmarshal(message.Data, &input); decodeErr != nil {
			subscriber.logger.Warn("report decode failed", "subject", message.Subject, "error", decodeErr.Error())
			metrics.IngestReportsTotal.WithLabelValues("rejected").Inc()
			// Malformed payloads never become valid; drop them.
			subscriber.ackMessage(message, "decode")
			return
		}
		if _, createErr := alerts.CreateAlert(context.Background(), input); createErr != nil {
			subscriber.logger.Error("report create failed", "subject", message.Subject, "error", createErr.Error())
			metrics.IngestReportsTotal.WithLabelValues("failed").Inc()
			subscriber.nackMessage(message, nackDelay)
			return
		}
		metrics.IngestReportsTotal.WithLabelValues("accepted").Inc()
		subscriber.ackMessage(message, "processed")
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// ensureStream ensures the report stream exists.
// Params: JetStream context, stream name, and subject.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    reportStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}

// ackMessage acknowledges a processed or dropped message.
// Params: JetStream message and short reason.
// Returns: none; ack failures are logged.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil {
		s.logger.Warn("ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver a message.
// Params: JetStream message and optional delay.
// Returns: none; nack failures are logged.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close stops the subscription and closes the connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
