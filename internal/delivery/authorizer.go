package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grabbybot/grabby/internal/metrics"
)

// Permissions answers whether a user may manage messages in a guild channel.
type Permissions interface {
	HasManageMessages(ctx context.Context, userID, guildID, channelID string) bool
}

// Messenger deletes messages on the platform.
type Messenger interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Authorizer decides whether a retraction signal may delete a delivered
// embed. Unauthorized and unknown signals are ignored silently so probing
// users cannot tell which messages are deletable.
type Authorizer struct {
	logger    *slog.Logger
	store     *Store
	perms     Permissions
	messenger Messenger
}

func NewAuthorizer(log *slog.Logger, store *Store, perms Permissions, messenger Messenger) *Authorizer {
	if log == nil {
		log = slog.Default()
	}
	return &Authorizer{
		logger:    log.With(slog.String("service", "authorizer")),
		store:     store,
		perms:     perms,
		messenger: messenger,
	}
}

// HandleReaction processes a retraction signal against a message. The signal
// is honored when the reactor is the original requester or holds the manage
// permission in the record's guild.
func (a *Authorizer) HandleReaction(ctx context.Context, messageID, reactorID string) error {
	rec, ok := a.store.Get(messageID)
	if !ok {
		// Record already gone or message never tracked.
		return nil
	}

	if reactorID != rec.UserID && !a.perms.HasManageMessages(ctx, reactorID, rec.GuildID, rec.ChannelID) {
		a.logger.Debug("retraction not authorized",
			slog.String("message_id", messageID),
			slog.String("reactor", reactorID))
		return nil
	}

	if err := a.messenger.DeleteMessage(ctx, rec.ChannelID, messageID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	a.store.Remove(messageID)
	metrics.DeletionsTotal.WithLabelValues("retraction").Inc()
	a.logger.Info("embed retracted",
		slog.String("message_id", messageID),
		slog.String("reactor", reactorID))
	return nil
}

// HandleMessageDeleted drops the record when the message was removed outside
// the authorizer. A record never outlives its message.
func (a *Authorizer) HandleMessageDeleted(messageID string) {
	if a.store.Remove(messageID) {
		metrics.DeletionsTotal.WithLabelValues("external").Inc()
	}
}
