package stats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/statedb"
)

var pushLog = logging.ForComponent(logging.CompPush)

// pushSender delivers one encrypted payload to one subscription endpoint.
// Factored out so tests can run without touching real push services.
type pushSender interface {
	Send(payload []byte, sub *statedb.PushSubscriptionRow) (status int, err error)
}

type vapidSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidSender) Send(payload []byte, sub *statedb.PushSubscriptionRow) (int, error) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             60,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushNotifier sends web-push notices when a session exits while another tab
// holds focus. It is an active-session observer so it always knows which
// session the user is looking at.
type PushNotifier struct {
	db     *statedb.StateDB
	sender pushSender

	publicKey string

	mu     sync.Mutex
	active string
}

// NewPushNotifier loads (or generates) the VAPID keypair from keyDir and
// returns a notifier backed by the state database.
func NewPushNotifier(db *statedb.StateDB, keyDir, subject string) (*PushNotifier, error) {
	publicKey, privateKey, err := ensureVAPIDKeys(keyDir)
	if err != nil {
		return nil, fmt.Errorf("push notifier: %w", err)
	}
	return &PushNotifier{
		db:        db,
		publicKey: publicKey,
		sender: &vapidSender{
			subject:    subject,
			publicKey:  publicKey,
			privateKey: privateKey,
		},
	}, nil
}

// PublicKey returns the VAPID public key clients need to subscribe.
func (p *PushNotifier) PublicKey() string {
	return p.publicKey
}

// NotifyActive tracks the focused backend session so exits of the focused
// session never generate a notice.
func (p *PushNotifier) NotifyActive(backendSessionID string) {
	p.mu.Lock()
	p.active = backendSessionID
	p.mu.Unlock()
}

// Subscribe stores a browser push subscription.
func (p *PushNotifier) Subscribe(endpoint, p256dh, auth string) error {
	if endpoint == "" || p256dh == "" || auth == "" {
		return fmt.Errorf("subscription is missing endpoint or keys")
	}
	return p.db.UpsertPushSubscription(&statedb.PushSubscriptionRow{
		Endpoint: endpoint,
		P256DH:   p256dh,
		Auth:     auth,
	})
}

// browserSubscription is the JSON shape a browser's PushSubscription.toJSON()
// produces, which is what users paste out of their push client.
type browserSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256DH string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscribeFromJSON stores a subscription given in the standard browser
// export format: {"endpoint": ..., "keys": {"p256dh": ..., "auth": ...}}.
func (p *PushNotifier) SubscribeFromJSON(data []byte) error {
	var sub browserSubscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if err := p.Subscribe(sub.Endpoint, sub.Keys.P256DH, sub.Keys.Auth); err != nil {
		return err
	}
	pushLog.Info("push_subscription_added",
		slog.String("endpoint", endpointForLog(sub.Endpoint)))
	return nil
}

// Unsubscribe removes a subscription by endpoint.
func (p *PushNotifier) Unsubscribe(endpoint string) error {
	return p.db.DeletePushSubscription(endpoint)
}

// SessionExited pushes a "session exited" notice to every subscriber, unless
// the exited session is the one currently focused (the user already sees it).
// Delivery is fire-and-forget.
func (p *PushNotifier) SessionExited(backendSessionID, name string, exitCode int) {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if backendSessionID == active {
		return
	}

	subs, err := p.db.LoadPushSubscriptions()
	if err != nil {
		pushLog.Warn("push_subscriptions_load_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}

	body := fmt.Sprintf("%q exited with code %d", name, exitCode)
	payload, err := json.Marshal(pushPayload{Title: "Session exited", Body: body})
	if err != nil {
		pushLog.Error("push_payload_encode_failed", slog.String("error", err.Error()))
		return
	}

	go p.broadcast(payload, subs)
}

func (p *PushNotifier) broadcast(payload []byte, subs []*statedb.PushSubscriptionRow) {
	for _, sub := range subs {
		status, err := p.sender.Send(payload, sub)
		if err != nil {
			pushLog.Warn("push_send_failed",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.String("error", err.Error()))
			continue
		}
		if status == http.StatusNotFound || status == http.StatusGone {
			// Endpoint is dead; forget it.
			if err := p.db.DeletePushSubscription(sub.Endpoint); err != nil {
				pushLog.Warn("push_subscription_prune_failed", slog.String("error", err.Error()))
			} else {
				pushLog.Info("push_subscription_pruned",
					slog.String("endpoint", endpointForLog(sub.Endpoint)))
			}
		}
	}
}

// endpointForLog truncates endpoints, which embed long capability tokens.
func endpointForLog(endpoint string) string {
	if len(endpoint) <= 40 {
		return endpoint
	}
	return endpoint[:40] + "..."
}
