package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// WhatsAppNotifier pushes messages through the Twilio WhatsApp API.
// The owner key of a notification is the recipient phone number.
type WhatsAppNotifier struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
	logger     zerolog.Logger
}

// NewWhatsAppNotifier constructs a Twilio WhatsApp notifier.
func NewWhatsAppNotifier(accountSID, authToken, from, baseURL string, timeout time.Duration, logger zerolog.Logger) *WhatsAppNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}

	return &WhatsAppNotifier{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_whatsapp").Logger(),
	}
}

// Notify posts a message to the Twilio messages endpoint.
func (n *WhatsAppNotifier) Notify(ctx context.Context, note Notification) error {
	if note.OwnerKey == "" {
		return fmt.Errorf("whatsapp notification missing recipient")
	}

	form := url.Values{}
	form.Set("From", "whatsapp:"+n.from)
	form.Set("To", "whatsapp:"+note.OwnerKey)
	form.Set("Body", renderMessage(note))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.baseURL, n.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(n.accountSID, n.authToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp send returned status %d", resp.StatusCode)
	}

	var result struct {
		SID string `json:"sid"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&result)

	n.logger.Info().
		Int64("alert_id", note.AlertID).
		Str("symbol", note.Symbol).
		Str("sid", result.SID).
		Msg("alert sent (WhatsApp)")
	return nil
}

var _ Notifier = (*WhatsAppNotifier)(nil)
