// ABOUTME: Markdown to Matrix HTML rendering for outgoing replies
// ABOUTME: Uses goldmark with hard wraps so single newlines survive

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
)

var markdown = goldmark.New(
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// textContent builds an m.text event. The plain body keeps the markdown;
// formatted_body is only set when rendering succeeds.
func textContent(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = strings.TrimSpace(buf.String())
	return content
}
