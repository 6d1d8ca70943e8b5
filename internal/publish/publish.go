// Package publish fans scored events out over Redis pub/sub. Non-INFO
// events go to the firehose and their band channel; CRITICAL and HIGH
// additionally go to the actor's personal channel so user-facing alerting
// can subscribe narrowly.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Sumatoshi-tech/octofang/internal/severity"
	"github.com/Sumatoshi-tech/octofang/internal/store"
)

// Channel names.
const (
	ChannelAnomalies  = "anomalies"
	bandChannelPrefix = "anomalies_"
	userChannelPrefix = "user_"
)

// envelopeType is the type tag on published payloads.
const envelopeType = "anomaly_detected"

// Envelope is the wire format of every published message.
type Envelope struct {
	Type string               `json:"type"`
	Data severity.ScoredEvent `json:"data"`
}

// Publisher fans out scored events.
type Publisher struct {
	store  *store.Store
	logger *slog.Logger
}

// New builds a publisher.
func New(st *store.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{store: st, logger: logger}
}

// BandChannel returns the channel name for one band.
func BandChannel(band severity.Band) string {
	return bandChannelPrefix + string(band)
}

// UserChannel returns the per-actor channel name.
func UserChannel(login string) string {
	return userChannelPrefix + login
}

// Publish fans one scored event out to its channels. INFO events are not
// published. Individual channel failures are logged; the first error is
// returned after all channels were attempted.
func (p *Publisher) Publish(ctx context.Context, ev severity.ScoredEvent) error {
	if ev.Band == severity.BandInfo {
		return nil
	}

	payload, err := json.Marshal(Envelope{Type: envelopeType, Data: ev})
	if err != nil {
		return fmt.Errorf("publish: encode event %s: %w", ev.EventID, err)
	}

	channels := []string{ChannelAnomalies, BandChannel(ev.Band)}

	if ev.Band == severity.BandCritical || ev.Band == severity.BandHigh {
		channels = append(channels, UserChannel(ev.Actor))
	}

	var firstErr error

	for _, channel := range channels {
		err = p.store.Client().Publish(ctx, channel, payload).Err()
		if err != nil {
			p.logger.Warn("publish failed", "channel", channel, "event", ev.EventID, "error", err)

			if firstErr == nil {
				firstErr = fmt.Errorf("publish: channel %s: %w", channel, err)
			}
		}
	}

	return firstErr
}
