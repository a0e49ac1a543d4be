package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/asheshgoplani/linkdeck/internal/events"
	"github.com/asheshgoplani/linkdeck/internal/statedb"
)

const pushQueueSize = 32

// SubscriptionStore persists browser push subscriptions.
type SubscriptionStore interface {
	UpsertPushSubscription(ctx context.Context, sub statedb.PushSubscriptionRow) error
	ListPushSubscriptions(ctx context.Context) ([]statedb.PushSubscriptionRow, error)
	RemovePushSubscription(ctx context.Context, endpoint string) error
}

type pushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime any                  `json:"expirationTime,omitempty"`
	Keys           pushSubscriptionKeys `json:"keys"`
}

type pushSubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s pushSubscription) normalize() pushSubscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s pushSubscription) validate() error {
	switch {
	case s.Endpoint == "":
		return fmt.Errorf("endpoint is required")
	case s.Keys.P256DH == "":
		return fmt.Errorf("keys.p256dh is required")
	case s.Keys.Auth == "":
		return fmt.Errorf("keys.auth is required")
	}
	return nil
}

// pushSender delivers one encrypted payload. The status code is returned
// even on failure so expired endpoints can be pruned.
type pushSender interface {
	Send(payload []byte, sub statedb.PushSubscriptionRow) (int, error)
}

type vapidPushSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidPushSender) Send(payload []byte, sub statedb.PushSubscriptionRow) (int, error) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256DH, Auth: sub.Auth},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
		Urgency:         webpush.UrgencyHigh,
	})
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

type pushMessage struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Tag        string `json:"tag,omitempty"`
	Renotify   bool   `json:"renotify,omitempty"`
	AccountID  string `json:"accountId"`
	Type       string `json:"type"`
	Level      string `json:"level"`
	Timestamp  string `json:"timestamp"`
	RequireInt bool   `json:"requireInteraction,omitempty"`
}

// PushNotifier is an events.Sink that forwards error and critical events to
// every stored push subscription. Emit only enqueues; delivery happens on the
// goroutine started by Start.
type PushNotifier struct {
	publicKey string
	subject   string
	store     SubscriptionStore
	sender    pushSender

	queue     chan events.Event
	startOnce sync.Once
	done      chan struct{}
}

// NewPushNotifier builds a notifier signing with the given VAPID keypair.
func NewPushNotifier(store SubscriptionStore, keys VAPIDKeys) (*PushNotifier, error) {
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil, fmt.Errorf("both push vapid public and private keys are required")
	}
	subject := strings.TrimSpace(keys.Subject)
	if subject == "" {
		subject = "mailto:linkdeck@localhost"
	}
	return newPushNotifier(store, &vapidPushSender{
		subject:    subject,
		publicKey:  keys.PublicKey,
		privateKey: keys.PrivateKey,
	}, keys.PublicKey, subject), nil
}

func newPushNotifier(store SubscriptionStore, sender pushSender, publicKey, subject string) *PushNotifier {
	return &PushNotifier{
		publicKey: publicKey,
		subject:   subject,
		store:     store,
		sender:    sender,
		queue:     make(chan events.Event, pushQueueSize),
		done:      make(chan struct{}),
	}
}

var _ events.Sink = (*PushNotifier)(nil)

// PublicKey is handed to browsers so they can subscribe.
func (p *PushNotifier) PublicKey() string { return p.publicKey }

// Subject is the VAPID contact.
func (p *PushNotifier) Subject() string { return p.subject }

// Emit queues e when its level warrants a notification. A full queue drops e.
func (p *PushNotifier) Emit(e events.Event) {
	if e.Level != events.LevelError && e.Level != events.LevelCritical {
		return
	}
	select {
	case p.queue <- e:
	default:
		webLog.Warn("push_queue_full",
			slog.String("account", e.AccountID),
			slog.String("type", string(e.Type)))
	}
}

// Start runs delivery until ctx is cancelled.
func (p *PushNotifier) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

// Done is closed once delivery has stopped.
func (p *PushNotifier) Done() <-chan struct{} { return p.done }

func (p *PushNotifier) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.queue:
			p.notify(ctx, e)
		}
	}
}

func (p *PushNotifier) notify(ctx context.Context, e events.Event) {
	subs, err := p.store.ListPushSubscriptions(ctx)
	if err != nil {
		webLog.Error("push_list_subscriptions_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload, err := json.Marshal(pushMessage{
		Title:      pushTitle(e),
		Body:       pushBody(e),
		Tag:        fmt.Sprintf("linkdeck-%s-%s", e.AccountID, e.Type),
		Renotify:   true,
		AccountID:  e.AccountID,
		Type:       string(e.Type),
		Level:      string(e.Level),
		Timestamp:  ts.UTC().Format(time.RFC3339),
		RequireInt: e.Level == events.LevelCritical,
	})
	if err != nil {
		webLog.Error("push_marshal_failed", slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		status, err := p.sender.Send(payload, sub)
		if err == nil {
			webLog.Debug("push_sent",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.Int("http_status", status),
				slog.String("account", e.AccountID),
				slog.String("type", string(e.Type)))
			continue
		}
		webLog.Error("push_send_failed",
			slog.String("endpoint", endpointForLog(sub.Endpoint)),
			slog.Int("http_status", status),
			slog.String("account", e.AccountID),
			slog.String("error", err.Error()))
		if status == http.StatusGone || status == http.StatusNotFound {
			_ = p.store.RemovePushSubscription(ctx, sub.Endpoint)
		}
	}
}

// Subscribe stores sub, replacing any subscription with the same endpoint.
func (p *PushNotifier) Subscribe(ctx context.Context, sub pushSubscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}
	return p.store.UpsertPushSubscription(ctx, statedb.PushSubscriptionRow{
		Endpoint:  sub.Endpoint,
		P256DH:    sub.Keys.P256DH,
		Auth:      sub.Keys.Auth,
		CreatedAt: time.Now(),
	})
}

// Unsubscribe removes the subscription for endpoint.
func (p *PushNotifier) Unsubscribe(ctx context.Context, endpoint string) error {
	return p.store.RemovePushSubscription(ctx, strings.TrimSpace(endpoint))
}

// SubscriptionCount reports how many subscriptions are stored.
func (p *PushNotifier) SubscriptionCount(ctx context.Context) (int, error) {
	subs, err := p.store.ListPushSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

func pushTitle(e events.Event) string {
	switch e.Type {
	case events.TypeAccountDisabled:
		return fmt.Sprintf("linkdeck: %s disabled", e.AccountID)
	case events.TypeHardTimeoutCritical:
		return fmt.Sprintf("linkdeck: %s pairing stalled", e.AccountID)
	case events.TypeRetryExhausted:
		return fmt.Sprintf("linkdeck: %s gave up reconnecting", e.AccountID)
	case events.TypeHandshakeFailed:
		return fmt.Sprintf("linkdeck: %s pairing failed", e.AccountID)
	}
	return fmt.Sprintf("linkdeck: %s (%s)", e.AccountID, e.Level)
}

func pushBody(e events.Event) string {
	for _, key := range []string{"reason", "error", "message"} {
		if v, ok := e.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return string(e.Type)
}

func endpointForLog(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err == nil && u.Host != "" {
		return u.Host
	}
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}
