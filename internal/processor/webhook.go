package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pmichalski/copydesk/internal/errs"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Processor-Signature"

// Event is a confirmation of a completed checkout session. AmountTotal is
// in minor currency units.
type Event struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	SessionID   string            `json:"session_id"`
	AmountTotal int64             `json:"amount_total"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

// VerifySignature checks the webhook signature before anything is parsed.
// Comparison is constant-time.
func VerifySignature(body []byte, signature, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errs.ErrBadSignature
	}
	return nil
}

func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	if event.SessionID == "" {
		return Event{}, fmt.Errorf("event without session id")
	}
	return event, nil
}
