package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/herald-sh/herald/notification"
)

// ChannelWebhook is the name the Webhook channel registers under.
const ChannelWebhook = "webhook"

// maxWebhookResponse bounds how much of the response body is read back
// for the delivery result.
const maxWebhookResponse = 4 << 10

// webhookPayload is the JSON body POSTed to the recipient URL.
type webhookPayload struct {
	Subject   string         `json:"subject"`
	Message   string         `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Webhook delivers notifications by POSTing JSON to the recipient URL.
//
// Recipient URLs are caller-supplied, so the channel refuses anything
// that resolves to loopback, private, link-local, or unspecified
// addresses. The check runs at dial time, not just at validation, which
// also covers DNS answers that change between the two.
type Webhook struct {
	client       *http.Client
	allowPrivate bool
}

// WebhookOption configures the Webhook channel.
type WebhookOption func(*Webhook)

// WithAllowPrivate disables the private-address guard. Meant for tests
// and for deployments that intentionally deliver inside their own
// network.
func WithAllowPrivate() WebhookOption {
	return func(w *Webhook) { w.allowPrivate = true }
}

// NewWebhook creates the webhook channel.
func NewWebhook(opts ...WebhookOption) *Webhook {
	w := &Webhook{}
	for _, opt := range opts {
		opt(w)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if !w.allowPrivate {
				if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok && isDisallowedIP(tcp.IP) {
					conn.Close()
					return nil, fmt.Errorf("destination %s is not routable for webhooks", tcp.IP)
				}
			}
			return conn, nil
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	w.client = &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return w.checkURL(req.URL)
		},
	}
	return w
}

// Name implements Channel.
func (w *Webhook) Name() string { return ChannelWebhook }

// Validate checks the recipient URL syntactically and against the
// address guard for literal-IP hosts.
func (w *Webhook) Validate(n *notification.Notification) error {
	u, err := url.Parse(n.Recipient)
	if err != nil {
		return &ValidationError{Channel: ChannelWebhook, Field: "recipient", Reason: err.Error()}
	}
	if err := w.checkURL(u); err != nil {
		return &ValidationError{Channel: ChannelWebhook, Field: "recipient", Reason: err.Error()}
	}
	return nil
}

func (w *Webhook) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("missing host")
	}
	if w.allowPrivate {
		return nil
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && isDisallowedIP(ip) {
		return fmt.Errorf("address %s is not routable for webhooks", ip)
	}
	return nil
}

// Send POSTs the payload and treats any non-2xx status as a transport
// failure.
func (w *Webhook) Send(ctx context.Context, n *notification.Notification) (*Result, error) {
	body, err := json.Marshal(webhookPayload{
		Subject:   n.Subject,
		Message:   n.Message,
		Metadata:  n.Metadata,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, &ChannelError{Channel: ChannelWebhook, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Recipient, bytes.NewReader(body))
	if err != nil {
		return nil, &ChannelError{Channel: ChannelWebhook, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "herald/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, &ChannelError{Channel: ChannelWebhook, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ChannelError{
			Channel: ChannelWebhook,
			Err:     fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody),
		}
	}

	return &Result{
		Channel: ChannelWebhook,
		Detail: map[string]string{
			"status": fmt.Sprint(resp.StatusCode),
			"body":   string(respBody),
		},
	}, nil
}

// isDisallowedIP reports whether an address must never receive a
// webhook: loopback, RFC 1918 private, link-local (including the cloud
// metadata range 169.254.0.0/16), and unspecified addresses.
func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
