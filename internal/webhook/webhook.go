package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	EventIngestCompleted = "ingest.completed"

	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	DeliveryHeader  = "X-Webhook-ID"
)

// ErrPermanent marks a delivery the receiver rejected; retrying will not help.
var ErrPermanent = errors.New("webhook rejected")

// Envelope is the JSON body posted to receivers.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Event     string          `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Delivery is one signed POST of an envelope to one URL.
type Delivery struct {
	ID      uuid.UUID `json:"id"`
	URL     string    `json:"url"`
	Event   string    `json:"event"`
	Payload []byte    `json:"payload"`
}

func NewDelivery(url, event string, data any) (Delivery, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal %s data: %w", event, err)
	}
	env := Envelope{ID: uuid.New(), Event: event, CreatedAt: time.Now().UTC(), Data: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return Delivery{ID: env.ID, URL: url, Event: event, Payload: body}, nil
}

// Sender posts deliveries signed with HMAC-SHA256 over the raw body.
type Sender struct {
	client *http.Client
	secret string
}

func NewSender(secret string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{client: &http.Client{Timeout: timeout}, secret: secret}
}

// Send returns nil on a 2xx response. 4xx responses other than 408 and 429
// wrap ErrPermanent.
func (s *Sender) Send(ctx context.Context, d Delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, d.Event)
	req.Header.Set(DeliveryHeader, d.ID.String())
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(d.Payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook %s: %w", d.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("post webhook %s: status %d", d.ID, resp.StatusCode)
	default:
		return fmt.Errorf("%w: post webhook %s: status %d", ErrPermanent, d.ID, resp.StatusCode)
	}
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
