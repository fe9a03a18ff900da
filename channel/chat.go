package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/herald-sh/herald/notification"
)

// ChannelChat is the name the Chat channel registers under.
const ChannelChat = "chat"

// chatPayload is a Slack-compatible incoming-webhook message.
type chatPayload struct {
	Text        string           `json:"text"`
	Username    string           `json:"username,omitempty"`
	Channel     string           `json:"channel,omitempty"`
	IconEmoji   string           `json:"icon_emoji,omitempty"`
	Attachments []chatAttachment `json:"attachments,omitempty"`
}

type chatAttachment struct {
	Color  string `json:"color,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// Chat posts notifications to a chat workspace through an
// operator-configured incoming webhook. The webhook URL comes from
// configuration, never from the notification, so the recipient field
// only selects the room.
type Chat struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewChat creates the chat channel pointing at the workspace webhook.
func NewChat(webhookURL, username string) *Chat {
	return &Chat{
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Name implements Channel.
func (c *Chat) Name() string { return ChannelChat }

// Validate requires a configured webhook URL and a non-empty message.
// The recipient is the target room and may be empty (webhook default).
func (c *Chat) Validate(n *notification.Notification) error {
	if c.webhookURL == "" {
		return &ValidationError{Channel: ChannelChat, Field: "webhook_url", Reason: "not configured"}
	}
	if strings.TrimSpace(n.Message) == "" {
		return &ValidationError{Channel: ChannelChat, Field: "message", Reason: "empty"}
	}
	return nil
}

// Send posts the message. Metadata keys "color", "footer", and
// "icon_emoji" decorate the attachment when present.
func (c *Chat) Send(ctx context.Context, n *notification.Notification) (*Result, error) {
	text := n.Message
	if n.Subject != "" {
		text = fmt.Sprintf("*%s*\n%s", n.Subject, n.Message)
	}

	payload := chatPayload{
		Text:     text,
		Username: c.username,
		Channel:  n.Recipient,
	}
	payload.IconEmoji = n.Meta("icon_emoji")
	color := n.Meta("color")
	footer := n.Meta("footer")
	if color != "" || footer != "" {
		payload.Attachments = []chatAttachment{{
			Color:  color,
			Footer: footer,
			Ts:     time.Now().Unix(),
		}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ChannelError{Channel: ChannelChat, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, &ChannelError{Channel: ChannelChat, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ChannelError{Channel: ChannelChat, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode != http.StatusOK {
		return nil, &ChannelError{
			Channel: ChannelChat,
			Err:     fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody),
		}
	}

	return &Result{
		Channel: ChannelChat,
		Detail:  map[string]string{"room": n.Recipient},
	}, nil
}
