// Package payment implements the x402 challenge-response flow that gates
// tip-votes behind a verified micropayment.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the x402 protocol version spoken by the gateway.
const Version = 1

// HeaderName carries the signed payment on the retried request.
const HeaderName = "X-PAYMENT"

// State is the position of a tip attempt in the x402 exchange.
type State string

const (
	StateRequested       State = "requested"
	StatePaymentRequired State = "payment_required"
	StateSigned          State = "signed"
	StateSettled         State = "settled"
	StateDeclined        State = "declined"
)

// Requirements is one accepted way to pay.
type Requirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	Amount            string            `json:"amount"`
	Asset             string            `json:"asset"`
	PayTo             string            `json:"payTo"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Splits are the payout percentages advertised with a challenge.
type Splits struct {
	CreatorPercent  int `json:"creator_percent"`
	PlatformPercent int `json:"platform_percent"`
	AgentPercent    int `json:"agent_percent"`
}

// Details describes the tip in the caller's units.
type Details struct {
	AmountCents int64  `json:"amount_cents"`
	Splits      Splits `json:"splits"`
}

// Challenge is the body of a 402 response.
type Challenge struct {
	X402Version    int            `json:"x402Version"`
	Error          string         `json:"error,omitempty"`
	Accepts        []Requirements `json:"accepts"`
	PaymentDetails Details        `json:"payment_details"`
}

// Payload is the decoded X-PAYMENT header.
type Payload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// ErrMalformedHeader is returned for an X-PAYMENT value that cannot be decoded.
var ErrMalformedHeader = errors.New("malformed payment header")

// DecodeHeader parses a base64 encoded X-PAYMENT value. Both the standard
// and URL alphabets are accepted, padded or not.
func DecodeHeader(header string) (*Payload, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedHeader)
	}

	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err = enc.DecodeString(header); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if len(p.Payload) == 0 || string(p.Payload) == "null" {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedHeader)
	}
	return &p, nil
}

// EncodeHeader is the inverse of DecodeHeader.
func EncodeHeader(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
