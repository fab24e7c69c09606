// internal/bot/messages.go
package bot

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// channelSource fetches channel history through the Discord API, paging
// backwards 100 messages at a time (the API maximum per call).
type channelSource struct {
	session *discordgo.Session
}

func NewChannelSource(session *discordgo.Session) MessageSource {
	return &channelSource{session: session}
}

func (s *channelSource) FetchRecent(ctx context.Context, channelID string, limit int) ([]Message, error) {
	var raw []*discordgo.Message
	beforeID := ""
	for remaining := limit; remaining > 0; {
		batch := remaining
		if batch > 100 {
			batch = 100
		}
		page, err := s.session.ChannelMessages(channelID, batch, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		raw = append(raw, page...)
		beforeID = page[len(page)-1].ID
		remaining -= len(page)
	}

	// The API returns newest first; walk backwards for oldest-to-newest,
	// skipping bots and blank content.
	out := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if m.Author == nil || m.Author.Bot {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, Message{
			DisplayName: displayName(m),
			Text:        m.Content,
			Timestamp:   m.Timestamp,
		})
	}
	return out, nil
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// interactionSink replies through the interaction's followup webhook and,
// for the private variant, the requester's DM channel.
type interactionSink struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	userID      string
}

func newInteractionSink(s *discordgo.Session, i *discordgo.Interaction, userID string) *interactionSink {
	return &interactionSink{session: s, interaction: i, userID: userID}
}

func (s *interactionSink) SendToChannel(text string) error {
	_, err := s.session.FollowupMessageCreate(s.interaction, true, &discordgo.WebhookParams{
		Content: text,
	})
	return err
}

func (s *interactionSink) SendEphemeral(text string) error {
	_, err := s.session.FollowupMessageCreate(s.interaction, true, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	return err
}

func (s *interactionSink) SendDirect(text string) error {
	channel, err := s.session.UserChannelCreate(s.userID)
	if err != nil {
		return err
	}
	_, err = s.session.ChannelMessageSend(channel.ID, text)
	return err
}
