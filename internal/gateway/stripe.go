package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.stripe.com"

// signatureTolerance bounds how old a webhook timestamp may be before the
// payload is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// Stripe talks the Stripe wire protocol: payment intents are created with a
// form POST carrying the order id as metadata, and webhook payloads are
// authenticated with the Stripe-Signature HMAC scheme.
type Stripe struct {
	apiBase       string
	secretKey     string
	webhookSecret string
	client        *http.Client
	now           func() time.Time
}

var _ Gateway = (*Stripe)(nil)

// NewStripe creates a gateway client. apiBase may be empty for the live API.
func NewStripe(apiBase, secretKey, webhookSecret string) *Stripe {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Stripe{
		apiBase:       strings.TrimRight(apiBase, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}
}

// CreateIntent creates a payment intent for the given amount in minor units.
// The order id travels as intent metadata so webhook events can be tied back
// to the order.
func (s *Stripe) CreateIntent(ctx context.Context, amountMinorUnits int64, currency string, orderID int64) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinorUnits, 10))
	form.Set("currency", currency)
	form.Set("metadata[order_id]", strconv.FormatInt(orderID, 10))
	form.Set("metadata[integration]", "nexusmart")
	form.Set("automatic_payment_methods[enabled]", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.apiBase+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Op: "create intent", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "create intent", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Op: "create intent", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "create intent", StatusCode: resp.StatusCode, Message: string(body)}
	}

	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Op: "create intent", Message: fmt.Sprintf("bad response: %v", err)}
	}
	if out.ID == "" {
		return nil, &Error{Op: "create intent", Message: "response missing intent id"}
	}

	return &Intent{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the payload and
// parses the event. Only verified events are trusted.
func (s *Stripe) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	ts, sigs, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	verified := false
	for _, sig := range sigs {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, ErrSignatureInvalid
	}

	return parseEvent(payload)
}

// parseSignatureHeader splits "t=<ts>,v1=<sig>[,v1=<sig>...]".
func parseSignatureHeader(header string) (ts int64, sigs []string, err error) {
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err = strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
			}
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}

	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed signature header", ErrSignatureInvalid)
	}
	return ts, sigs, nil
}

func parseEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string            `json:"id"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &Event{
		ID:        raw.ID,
		Type:      raw.Type,
		Reference: raw.Data.Object.ID,
	}
	if v, ok := raw.Data.Object.Metadata["order_id"]; ok {
		orderID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad order_id metadata %q: %w", v, err)
		}
		event.OrderID = orderID
	}
	return event, nil
}
