package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sing3demons/instance-identity/internal/keyring"
	"github.com/sing3demons/instance-identity/pkg/kafka"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/logger"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

const DefaultTopic = "instance-identity.jwks-rotated"

const publishTimeout = 5 * time.Second

// RotationMessage is the event body relying parties consume to refresh their JWKS cache.
type RotationMessage struct {
	KID       string    `json:"kid"`
	Alg       string    `json:"alg"`
	RotatedAt time.Time `json:"rotated_at"`
	Keys      int       `json:"keys"`
	JwksURI   string    `json:"jwks_uri,omitempty"`
}

type FailureRecorder interface {
	NotifyFailed()
}

// RotationNotifier publishes a RotationMessage per rotation. Publishing happens on
// its own goroutine so a slow broker never delays token issuance.
type RotationNotifier struct {
	publisher kafka.Publisher
	topic     string
	jwksURI   string
	recorder  FailureRecorder

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRotationNotifier(publisher kafka.Publisher, topic, jwksURI string, recorder FailureRecorder) *RotationNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	return &RotationNotifier{publisher: publisher, topic: topic, jwksURI: jwksURI, recorder: recorder}
}

// OnRotate matches keyring.WithOnRotate. Events after Close are dropped.
func (n *RotationNotifier) OnRotate(ctx context.Context, ev keyring.RotationEvent) {
	log := mlog.L(ctx)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		log.Warn(logAction.BUSINESS("rotation event dropped after shutdown"), map[string]any{"kid": ev.KID})
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pctx, cancel := context.WithTimeout(logger.SetLogger(context.Background(), log), publishTimeout)
		defer cancel()
		n.Publish(pctx, ev)
	}()
}

// Publish sends the event and waits for the broker's acknowledgement.
func (n *RotationNotifier) Publish(ctx context.Context, ev keyring.RotationEvent) error {
	log := mlog.L(ctx)
	msg := RotationMessage{
		KID:       ev.KID,
		Alg:       ev.Algorithm,
		RotatedAt: ev.RotatedAt.UTC(),
		Keys:      ev.Keys,
		JwksURI:   n.jwksURI,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	start := time.Now()
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency: "kafka",
	}).Debug(logAction.DB_REQUEST(logAction.DB_CREATE, "publish "+n.topic), msg)

	err = n.publisher.Publish(ctx, n.topic, []byte(ev.KID), body)

	result := map[string]any{"data": "OK"}
	if err != nil {
		result = map[string]any{"error": err.Error()}
	}
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency:   "kafka",
		ResponseTime: time.Since(start).Milliseconds(),
	}).Debug(logAction.DB_RESPONSE(logAction.DB_CREATE, "publish "+n.topic), result)

	if err != nil {
		log.Error(logAction.EXCEPTION("rotation event not published"), map[string]any{
			"kid":   ev.KID,
			"topic": n.topic,
			"error": err.Error(),
		})
		if n.recorder != nil {
			n.recorder.NotifyFailed()
		}
	}
	return err
}

// Close waits for in-flight events, then closes the publisher.
func (n *RotationNotifier) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
	return n.publisher.Close()
}
