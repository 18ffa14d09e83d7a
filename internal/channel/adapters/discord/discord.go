// Package discord is the platform boundary: it owns the gateway session,
// translates Discord events into dispatch and delivery calls, and posts
// the resulting embeds back.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/grabbybot/grabby/internal/delivery"
	"github.com/grabbybot/grabby/internal/dispatch"
	"github.com/grabbybot/grabby/internal/media"
)

const retractionEmoji = "❌"

// Adapter connects one bot token to the pipeline. It implements
// dispatch.Gateway, delivery.Permissions and delivery.Messenger.
type Adapter struct {
	logger  *slog.Logger
	session *discordgo.Session

	mu         sync.RWMutex
	dispatcher *dispatch.Dispatcher
	authorizer *delivery.Authorizer
	appID      string
}

func NewAdapter(log *slog.Logger, token string) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	a := &Adapter{
		logger:  log.With(slog.String("adapter", "discord")),
		session: session,
	}
	session.AddHandler(a.onReady)
	session.AddHandler(a.onMessageCreate)
	session.AddHandler(a.onMessageDelete)
	session.AddHandler(a.onReactionAdd)
	session.AddHandler(a.onInteractionCreate)
	return a, nil
}

// Bind attaches the pipeline. Must be called before Open; the adapter and
// the dispatcher reference each other, so construction happens in two steps.
func (a *Adapter) Bind(d *dispatch.Dispatcher, auth *delivery.Authorizer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dispatcher = d
	a.authorizer = auth
}

// Open connects to the gateway and registers the embed command.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.RLock()
	bound := a.dispatcher != nil && a.authorizer != nil
	a.mu.RUnlock()
	if !bound {
		return fmt.Errorf("adapter not bound to a dispatcher")
	}

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	if _, err := a.session.ApplicationCommandCreate(a.applicationID(), "", embedCommand(), discordgo.WithContext(ctx)); err != nil {
		a.session.Close()
		return fmt.Errorf("register embed command: %w", err)
	}

	a.logger.Info("gateway connected", slog.String("user", a.session.State.User.Username))
	return nil
}

// Close disconnects from the gateway.
func (a *Adapter) Close() error {
	return a.session.Close()
}

func (a *Adapter) applicationID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.appID != "" {
		return a.appID
	}
	return a.session.State.User.ID
}

func embedCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "embed",
		Description: "Download media from a URL and post it here",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "url",
				Description: "Link to the media",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "message",
				Description: "Caption to show with the media",
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "spoiler",
				Description: "Hide the media behind a spoiler",
			},
		},
	}
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	if r.Application != nil {
		a.appID = r.Application.ID
	}
	a.mu.Unlock()
}

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}
	a.dispatcher.HandleMessage(context.Background(), m.GuildID, m.ChannelID, m.Author.ID, m.ID, m.Content)
}

func (a *Adapter) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	a.dispatcher.NoteOriginDeleted(m.ID)
	a.authorizer.HandleMessageDeleted(m.ID)
}

func (a *Adapter) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.Emoji.Name != retractionEmoji {
		return
	}
	if s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	if err := a.authorizer.HandleReaction(context.Background(), r.MessageID, r.UserID); err != nil {
		a.logger.Warn("retraction failed",
			slog.String("message_id", r.MessageID),
			slog.Any("error", err))
	}
}

func (a *Adapter) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "embed" {
		return
	}

	req := dispatch.Request{
		ChannelID:        i.ChannelID,
		GuildID:          i.GuildID,
		InteractionToken: i.Token,
	}
	if i.Member != nil && i.Member.User != nil {
		req.UserID = i.Member.User.ID
	} else if i.User != nil {
		req.UserID = i.User.ID
	}
	for _, opt := range data.Options {
		switch opt.Name {
		case "url":
			req.URL = opt.StringValue()
		case "message":
			req.Caption = opt.StringValue()
		case "spoiler":
			req.Spoiler = opt.BoolValue()
		}
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Fetching media...",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		a.logger.Warn("interaction ack failed", slog.Any("error", err))
		return
	}

	go func() {
		if err := a.dispatcher.HandleCommand(context.Background(), req); err != nil {
			a.logger.Warn("embed command failed",
				slog.String("url", req.URL),
				slog.Any("error", err))
		}
	}()
}

// UploadAttachment posts the files to the channel. The source link in the
// content is kept from unfurling and the embed gets a ❌ reaction so the
// requester can retract it.
func (a *Adapter) UploadAttachment(ctx context.Context, channelID string, files []media.File, content string, spoiler bool) (string, error) {
	msgFiles := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		name := f.Name
		if spoiler && !strings.HasPrefix(name, "SPOILER_") {
			name = "SPOILER_" + name
		}
		msgFiles = append(msgFiles, &discordgo.File{
			Name:   name,
			Reader: bytes.NewReader(f.Data),
		})
	}

	msg, err := a.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Files:   msgFiles,
		Flags:   discordgo.MessageFlagsSuppressEmbeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	if err := a.session.MessageReactionAdd(channelID, msg.ID, retractionEmoji, discordgo.WithContext(ctx)); err != nil {
		a.logger.Warn("self reaction failed",
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
	}
	return msg.ID, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

// ReportError surfaces a failure to the user. Command failures go to the
// ephemeral interaction followup; auto-embed failures are posted in the
// channel that carried the URL.
func (a *Adapter) ReportError(ctx context.Context, req dispatch.Request, text string) error {
	if req.InteractionToken == "" {
		_, err := a.session.ChannelMessageSend(req.ChannelID, "❌ "+req.URL+" - "+text, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("send error message: %w", err)
		}
		return nil
	}

	interaction := &discordgo.Interaction{
		AppID: a.applicationID(),
		Token: req.InteractionToken,
	}
	_, err := a.session.FollowupMessageCreate(interaction, true, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("interaction followup: %w", err)
	}
	return nil
}

// HasManageMessages reports whether the user holds Manage Messages in the
// channel. Permission lookup errors count as no.
func (a *Adapter) HasManageMessages(ctx context.Context, userID, guildID, channelID string) bool {
	perms, err := a.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		a.logger.Warn("permission lookup failed",
			slog.String("user_id", userID),
			slog.String("guild_id", guildID),
			slog.Any("error", err))
		return false
	}
	return perms&discordgo.PermissionManageMessages != 0
}
