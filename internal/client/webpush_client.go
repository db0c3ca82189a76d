package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/credential"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
)

// PushClient delivers Web Push notifications signed with VAPID keys.
type PushClient struct {
	client *http.Client
	ttl    int
}

func NewPushClient(timeout, ttl time.Duration) *PushClient {
	return &PushClient{
		client: &http.Client{
			Timeout: timeout,
		},
		ttl: int(ttl / time.Second),
	}
}

func (c *PushClient) Send(ctx context.Context, keys credential.VAPIDKeys, device model.Device, payload []byte) error {
	sub := &webpush.Subscription{
		Endpoint: device.Endpoint,
		Keys: webpush.Keys{
			P256dh: device.P256dh,
			Auth:   device.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      c.client,
		Subscriber:      subscriber(keys.Subject),
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             c.ttl,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return &DeliveryError{Class: ClassOther, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	class := ClassOther
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		class = ClassPermanentRecipientInvalid
	}
	return &DeliveryError{
		Class:      class,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// subscriber returns the VAPID contact in the form the library expects. It
// adds the mailto scheme itself to anything that is not an https URL.
func subscriber(subject string) string {
	return strings.TrimPrefix(subject, "mailto:")
}
