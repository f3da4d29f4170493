package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"slotsync/internal/channel"
	"slotsync/internal/models"

	"github.com/rs/zerolog"
)

// ChannelFetcher resolves cache misses over the realtime channel with a
// request/ack round trip.
type ChannelFetcher struct {
	channel        *channel.Client
	requestTimeout time.Duration
}

func NewChannelFetcher(c *channel.Client, requestTimeout time.Duration) *ChannelFetcher {
	return &ChannelFetcher{channel: c, requestTimeout: requestTimeout}
}

type availabilityQuery struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
}

func (f *ChannelFetcher) FetchAvailability(ctx context.Context, providerID string, date time.Time) (*models.ProviderAvailability, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	defer cancel()

	query := availabilityQuery{
		ProviderID: providerID,
		Date:       date.Format(models.DateLayout),
	}
	ack, err := f.channel.Request(reqCtx, channel.EventGetAvailability, query)
	if err != nil {
		return nil, fmt.Errorf("fetch availability %s: %w", providerID, err)
	}

	var availability models.ProviderAvailability
	if err := json.Unmarshal(ack, &availability); err != nil {
		return nil, fmt.Errorf("decode availability %s: %w", providerID, err)
	}
	return &availability, nil
}

// ChannelUpstream forwards the registry's reference-counted subscriptions
// to the server. Failures are logged, not returned: after a reconnect the
// registry's active set is replayed anyway.
type ChannelUpstream struct {
	channel *channel.Client
	logger  *zerolog.Logger
}

func NewChannelUpstream(c *channel.Client, logger *zerolog.Logger) *ChannelUpstream {
	return &ChannelUpstream{channel: c, logger: logger}
}

func (u *ChannelUpstream) SubscribeAvailability(providerID string) {
	err := u.channel.Emit(channel.EventSubscribeAvailability, presenceEvent{ProviderID: providerID})
	if err != nil {
		u.logger.Debug().Err(err).Str("provider_id", providerID).Msg("Subscribe deferred until reconnect")
	}
}

func (u *ChannelUpstream) UnsubscribeAvailability(providerID string) {
	err := u.channel.Emit(channel.EventUnsubscribeAvailability, presenceEvent{ProviderID: providerID})
	if err != nil {
		u.logger.Debug().Err(err).Str("provider_id", providerID).Msg("Unsubscribe skipped while offline")
	}
}
