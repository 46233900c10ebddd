// Package push delivers best-effort wake-up notifications to registered
// devices through an FCM-style HTTP endpoint. Push is a fallback channel for
// clients not connected to the realtime bus; its failure must never fail the
// enclosing signaling operation, so the notifier only ever returns an error
// for the caller to log.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned by Send when the notifier has no server key.
var ErrNotConfigured = errors.New("push notifier not configured")

// deviceTokenRE is an advisory shape check for registration tokens. The
// delivery service is the final authority on validity, so malformed tokens
// are logged and sent anyway rather than rejected outright.
var deviceTokenRE = regexp.MustCompile(`^[A-Za-z0-9_:\-\.]{20,}$`)

// message is the downstream request body: one device, a display
// notification, and a data payload for the client to route on.
type message struct {
	To           string            `json:"to"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// HTTPNotifier posts notifications to a delivery endpoint authenticated by a
// server key. The zero value is unusable; use NewHTTPNotifier.
type HTTPNotifier struct {
	endpoint  string
	serverKey string
	client    *http.Client
	log       zerolog.Logger
}

// NewHTTPNotifier builds a notifier for the given endpoint and server key.
// An empty key yields an unconfigured notifier whose Send fails softly with
// ErrNotConfigured.
func NewHTTPNotifier(endpoint, serverKey string, log zerolog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log,
	}
}

// Send delivers a title/body/data payload to one device token. A non-2xx
// response or transport error is returned for the caller to log; the caller
// must not let it fail the surrounding operation.
func (n *HTTPNotifier) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	if n.serverKey == "" || n.endpoint == "" {
		return ErrNotConfigured
	}
	if !deviceTokenRE.MatchString(deviceToken) {
		// Advisory only. The delivery service decides what is valid.
		n.log.Warn().Str("device_token_len", fmt.Sprintf("%d", len(deviceToken))).Msg("device token has unexpected shape")
	}

	payload, err := json.Marshal(message{
		To:           deviceToken,
		Notification: notification{Title: title, Body: body},
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+n.serverKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("push delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push delivery: unexpected status %d", resp.StatusCode)
	}
	return nil
}
