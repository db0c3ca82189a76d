package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/client"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/credential"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/logger"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/metrics"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/model"
	"github.com/josuerivera300891-prog/GymTime-sub001/internal/repo"
)

const defaultFanOut = 4

type PushSender interface {
	Send(ctx context.Context, keys credential.VAPIDKeys, device model.Device, payload []byte) error
}

type PushWorker struct {
	runner
	devices repo.DeviceRegistry
	sender  PushSender
	keys    *credential.PushKeys
	fanOut  int
}

func NewPushWorker(store repo.OutboxStore, devices repo.DeviceRegistry, sender PushSender, keys *credential.PushKeys, opts Options) *PushWorker {
	return &PushWorker{
		runner:  runner{channel: model.ChannelPush, store: store, opts: opts.withDefaults()},
		devices: devices,
		sender:  sender,
		keys:    keys,
		fanOut:  defaultFanOut,
	}
}

// WithFanOut sets how many devices of one message are attempted at once.
func (w *PushWorker) WithFanOut(n int) *PushWorker {
	if n > 0 {
		w.fanOut = n
	}
	return w
}

func (w *PushWorker) Run(ctx context.Context) (RunSummary, error) {
	return w.run(ctx, w.process)
}

type deviceAttempt struct {
	device model.Device
	err    error
}

func (w *PushWorker) process(ctx context.Context, msg model.OutboxMessage) outcome {
	keys, err := w.keys.Keys()
	if err != nil {
		return failed("%v", err)
	}

	payload, err := pushBody(msg)
	if err != nil {
		return failed("%v", err)
	}

	targets, o, ok := w.targets(ctx, msg)
	if !ok {
		return o
	}

	attempts := w.fanOutSend(ctx, keys, targets, payload)
	if ctx.Err() != nil && !anyDelivered(attempts) {
		// Failures caused by the run deadline say nothing about the devices.
		return released("%v", ctx.Err())
	}
	w.prune(ctx, msg, attempts)
	return aggregate(msg, attempts)
}

// targets resolves the devices to attempt. When ok is false the returned
// outcome is final and no delivery is made.
func (w *PushWorker) targets(ctx context.Context, msg model.OutboxMessage) ([]model.Device, outcome, bool) {
	if msg.DeviceID != nil {
		d, err := w.devices.Get(ctx, *msg.DeviceID)
		if errors.Is(err, repo.ErrDeviceNotFound) {
			return nil, failed("%v: device %s is not registered", ErrNoRecipientTarget, *msg.DeviceID), false
		}
		if err != nil {
			return nil, released("load device %s: %v", *msg.DeviceID, err), false
		}
		if d.MemberID != msg.MemberID {
			return nil, failed("%v: device %s does not belong to member %s", ErrNoRecipientTarget, d.ID, msg.MemberID), false
		}
		return []model.Device{d}, outcome{}, true
	}

	devices, err := w.devices.DevicesFor(ctx, msg.MemberID)
	if err != nil {
		return nil, released("load devices for member %s: %v", msg.MemberID, err), false
	}
	if len(devices) == 0 {
		return nil, failed("%v: no devices registered for member %s", ErrNoRecipientTarget, msg.MemberID), false
	}
	return devices, outcome{}, true
}

func (w *PushWorker) fanOutSend(ctx context.Context, keys credential.VAPIDKeys, devices []model.Device, payload []byte) []deviceAttempt {
	attempts := make([]deviceAttempt, len(devices))

	var g errgroup.Group
	g.SetLimit(w.fanOut)
	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			err := w.sender.Send(ctx, keys, d, payload)
			attempts[i] = deviceAttempt{device: d, err: err}
			metrics.DeliveryAttemptsTotal.WithLabelValues(string(model.ChannelPush), attemptOutcome(err)).Inc()
			// Device failures are aggregated, never propagated.
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

func (w *PushWorker) prune(ctx context.Context, msg model.OutboxMessage, attempts []deviceAttempt) {
	log := logger.From(ctx)
	for _, a := range attempts {
		if !client.IsPermanent(a.err) {
			continue
		}
		if err := w.devices.Remove(context.WithoutCancel(ctx), a.device.ID); err != nil {
			log.Error("remove invalid push device failed", "device_id", a.device.ID, "error", err)
			continue
		}
		metrics.DevicesPrunedTotal.Inc()
		log.Info("removed invalid push device",
			"device_id", a.device.ID,
			"member_id", a.device.MemberID,
			"message_id", msg.ID,
			"error", a.err,
		)
	}
}

func anyDelivered(attempts []deviceAttempt) bool {
	for _, a := range attempts {
		if a.err == nil {
			return true
		}
	}
	return false
}

// aggregate turns device results into the message outcome: sent when at
// least one device accepted it. A partial failure only shows up in the note.
func aggregate(msg model.OutboxMessage, attempts []deviceAttempt) outcome {
	var firstErr error
	failures := 0
	for _, a := range attempts {
		if a.err != nil {
			failures++
			if firstErr == nil {
				firstErr = fmt.Errorf("device %s: %w", a.device.ID, a.err)
			}
		}
	}

	total := len(attempts)
	switch {
	case failures == 0:
		return sent("")
	case failures < total:
		return sent(fmt.Sprintf("%d of %d devices failed; first error: %v", failures, total, firstErr))
	case msg.DeviceID != nil:
		return failed("%v", firstErr)
	default:
		return failed("all %d devices failed; first error: %v", total, firstErr)
	}
}

// pushBody builds the notification sent to devices. The tag defaults to the
// message id so a repeated delivery replaces the earlier notification.
func pushBody(msg model.OutboxMessage) ([]byte, error) {
	var p model.PushPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Body) == "" {
		return nil, fmt.Errorf("%w: push message needs a title or body", ErrInvalidPayload)
	}
	if p.Tag == "" {
		p.Tag = msg.ID
	}
	return json.Marshal(p)
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case client.IsPermanent(err):
		return "permanent"
	default:
		return "other"
	}
}
