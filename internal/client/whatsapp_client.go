package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

const whatsappPrefix = "whatsapp:"

// Provider error codes that mean the recipient number can never be reached.
var permanentWhatsAppCodes = map[int]bool{
	21211: true, // invalid To number
	21614: true, // To number is not a mobile number
	63024: true, // invalid message recipient
}

var ErrInvalidPhone = errors.New("phone number has no digits")

// WhatsAppClient sends WhatsApp messages through the provider's Messages REST
// resource using the tenant's own account.
type WhatsAppClient struct {
	baseURL string
	client  *http.Client
}

func NewWhatsAppClient(baseURL string, timeout time.Duration) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type whatsappResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send delivers p to phone from the credential's number and returns the
// provider message id.
func (c *WhatsAppClient) Send(ctx context.Context, cred model.Credential, phone string, p model.WhatsAppPayload) (string, error) {
	from, err := WhatsAppAddress(cred.FromNumber)
	if err != nil {
		return "", &DeliveryError{Class: ClassOther, Err: fmt.Errorf("from number: %w", err)}
	}
	to, err := WhatsAppAddress(phone)
	if err != nil {
		return "", &DeliveryError{Class: ClassPermanentRecipientInvalid, Err: fmt.Errorf("to number: %w", err)}
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	if p.IsTemplate() {
		form.Set("ContentSid", p.TemplateID)
		if len(p.Variables) > 0 {
			vars, err := json.Marshal(p.Variables)
			if err != nil {
				return "", &DeliveryError{Class: ClassOther, Err: err}
			}
			form.Set("ContentVariables", string(vars))
		}
	} else {
		form.Set("Body", p.Body)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(cred.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &DeliveryError{Class: ClassOther, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(cred.AccountSID, cred.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &DeliveryError{Class: ClassOther, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var wr whatsappResponse
	decodeErr := json.Unmarshal(body, &wr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && wr.Message != "" {
			msg = wr.Message
			if wr.Code != 0 {
				msg = fmt.Sprintf("%d %s", wr.Code, wr.Message)
			}
		}
		class := ClassOther
		if permanentWhatsAppCodes[wr.Code] {
			class = ClassPermanentRecipientInvalid
		}
		return "", &DeliveryError{Class: class, StatusCode: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return "", &DeliveryError{Class: ClassOther, Err: fmt.Errorf("failed to decode json: %w body=%q", decodeErr, string(body))}
	}
	if wr.SID == "" {
		return "", &DeliveryError{Class: ClassOther, Err: fmt.Errorf("missing sid in response body=%q", string(body))}
	}
	return wr.SID, nil
}

// SanitizePhone keeps only the digits of raw.
func SanitizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WhatsAppAddress converts a phone number, with or without the channel
// prefix, into the provider's "whatsapp:+<digits>" form.
func WhatsAppAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, whatsappPrefix)
	digits := SanitizePhone(raw)
	if digits == "" {
		return "", ErrInvalidPhone
	}
	return whatsappPrefix + "+" + digits, nil
}
