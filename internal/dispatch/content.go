package dispatch

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/grabbybot/grabby/internal/media"
)

var likesPrinter = message.NewPrinter(language.English)

// buildContent renders the message body shown above the attachment:
// requester mention, source link, extractor metadata, optional caption and a
// note for any files that could not be delivered.
func buildContent(req Request, m *media.Media, skipped []string) string {
	var b strings.Builder
	if req.UserID != "" {
		fmt.Fprintf(&b, "<@%s>", req.UserID)
	}
	b.WriteString("\n" + m.SourceURL)

	if m.Meta.Author != "" {
		fmt.Fprintf(&b, "\n👤 Author: %s", m.Meta.Author)
	}
	if m.Meta.Likes != nil {
		b.WriteString("\n❤️ Likes: " + likesPrinter.Sprintf("%d", *m.Meta.Likes))
	}
	if title := m.Meta.Title; title != "" && title != media.UnknownTitle && title != media.UnknownMedia {
		fmt.Fprintf(&b, "\n> %s", title)
	}
	if req.Caption != "" {
		b.WriteString("\n\n" + req.Caption)
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped oversized files: %s", strings.Join(skipped, ", "))
	}
	return b.String()
}
