package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/metrics"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
)

type WhatsAppSender interface {
	Send(ctx context.Context, cred model.Credential, phone string, p model.WhatsAppPayload) (remoteMessageID string, err error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string, channel model.Channel) (model.Credential, error)
}

type WhatsAppWorker struct {
	runner
	resolver CredentialResolver
	sender   WhatsAppSender
}

func NewWhatsAppWorker(store repo.OutboxStore, resolver CredentialResolver, sender WhatsAppSender, opts Options) *WhatsAppWorker {
	return &WhatsAppWorker{
		runner:   runner{channel: model.ChannelWhatsApp, store: store, opts: opts.withDefaults()},
		resolver: resolver,
		sender:   sender,
	}
}

type resolvedCredential struct {
	cred model.Credential
	err  error
}

func (w *WhatsAppWorker) Run(ctx context.Context) (RunSummary, error) {
	// Each tenant is resolved once per run.
	creds := make(map[string]resolvedCredential)

	return w.run(ctx, func(ctx context.Context, msg model.OutboxMessage) outcome {
		rc, ok := creds[msg.TenantID]
		if !ok {
			c, err := w.resolver.Resolve(ctx, msg.TenantID, model.ChannelWhatsApp)
			rc = resolvedCredential{cred: c, err: err}
			creds[msg.TenantID] = rc
		}
		return w.process(ctx, msg, rc)
	})
}

func (w *WhatsAppWorker) process(ctx context.Context, msg model.OutboxMessage, rc resolvedCredential) outcome {
	if rc.err != nil {
		if errors.Is(rc.err, ErrConfigurationMissing) {
			return failed("%v", rc.err)
		}
		return released("%v", rc.err)
	}

	if strings.TrimSpace(msg.Phone) == "" {
		return failed("%v: no recipient phone for member %s", ErrNoRecipientTarget, msg.MemberID)
	}

	p, err := whatsappPayload(msg)
	if err != nil {
		return failed("%v", err)
	}

	remoteID, err := w.sender.Send(ctx, rc.cred, msg.Phone, p)
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(model.ChannelWhatsApp), attemptOutcome(err)).Inc()
	if err != nil {
		if ctx.Err() != nil {
			// The provider may have accepted the request before the deadline;
			// a second delivery is preferred over a lost one.
			return released("%v", err)
		}
		return failed("%v", err)
	}

	o := sent("")
	o.remoteID = remoteID
	return o
}

func whatsappPayload(msg model.OutboxMessage) (model.WhatsAppPayload, error) {
	var p model.WhatsAppPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return model.WhatsAppPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !p.IsTemplate() && strings.TrimSpace(p.Body) == "" {
		return model.WhatsAppPayload{}, fmt.Errorf("%w: whatsapp message needs a body or template id", ErrInvalidPayload)
	}
	return p, nil
}
