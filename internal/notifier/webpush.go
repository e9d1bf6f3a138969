package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

type WebPushConfig struct {
	Subscriber string // mailto: contact for VAPID
	PublicKey  string
	PrivateKey string
	TTLSeconds int
}

// WebPush delivers alerts to every registered browser subscription.
// The payload shape matches what a service worker feeds to showNotification:
// title/body/tag/actions/vibrate.
type WebPush struct {
	cfg   WebPushConfig
	store store.Store
	log   logx.Logger
}

func NewWebPush(cfg WebPushConfig, st store.Store, log logx.Logger) (*WebPush, error) {
	if cfg.Subscriber == "" || cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("webpush: subscriber and VAPID key pair are required")
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = 30
	}
	return &WebPush{cfg: cfg, store: st, log: log}, nil
}

func (w *WebPush) Name() string { return "webpush" }

func (w *WebPush) Send(ctx context.Context, a Alert) error {
	subs, err := w.store.Subscriptions(ctx)
	if err != nil {
		return fmt.Errorf("webpush: load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		w.log.Debug("webpush: no subscriptions registered")
		return nil
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webpush: marshal payload: %w", err)
	}

	opts := &webpush.Options{
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTLSeconds,
	}

	var errs []error
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		code := resp.StatusCode
		_ = resp.Body.Close()

		// The push service says this endpoint is dead: drop it.
		if code == http.StatusNotFound || code == http.StatusGone {
			w.log.Info("webpush: pruning expired subscription", logx.String("endpoint", sub.Endpoint))
			_ = w.store.DeleteSubscription(ctx, sub.Endpoint)
			continue
		}
		if code >= 400 {
			errs = append(errs, fmt.Errorf("webpush: endpoint returned %d", code))
		}
	}
	return errors.Join(errs...)
}
