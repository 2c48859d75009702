package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/nats-io/nats.go"
)

// ErrAlreadySubscribed повторная подписка на инвалидации
var ErrAlreadySubscribed = errors.New("already subscribed to invalidations")

// NATSInvalidator рассылает инвалидации чанков между агентами через NATS.
// Собственные сообщения узла и повторы внутри окна дедупликации отбрасываются.
type NATSInvalidator struct {
	conn   *nats.Conn
	config InvalidatorConfig
	nodeID string

	mu           sync.Mutex
	subscription *nats.Subscription
	handler      InvalidationHandler

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	keysMutex  sync.Mutex
	recentKeys map[string]time.Time

	publishedCount atomic.Int64
	receivedCount  atomic.Int64
	errorsCount    atomic.Int64
}

// InvalidatorConfig конфигурация NATS invalidator
type InvalidatorConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// InvalidationMessage сообщение об инвалидации
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator подключается к NATS; nodeID уникален для агента
func NewNATSInvalidator(config InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config.Subject == "" {
		config.Subject = "terrain.invalidation"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = 5 * time.Second
	}

	conn, err := nats.Connect(config.NATSURL,
		nats.Name("voxel-agent-"+nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &NATSInvalidator{
		conn:       conn,
		config:     config,
		nodeID:     nodeID,
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}
	n.startDedupeCleanup()

	logging.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return n, nil
}

// PublishInvalidation рассылает инвалидацию ключа
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.isDuplicate(key) {
		return nil
	}

	data, err := json.Marshal(InvalidationMessage{Key: key, Timestamp: time.Now(), NodeID: n.nodeID})
	if err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := n.conn.Publish(n.config.Subject, data); err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("publish invalidation: %w", err)
	}

	n.recordKey(key)
	n.publishedCount.Add(1)
	return nil
}

// SubscribeInvalidations подписывается на инвалидации других узлов до отмены ctx
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subscription != nil {
		return ErrAlreadySubscribed
	}
	n.handler = handler

	sub, err := n.conn.Subscribe(n.config.Subject, n.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	logging.Info("Subscribed to terrain invalidations on subject: %s", n.config.Subject)
	return nil
}

// Close отписывается и закрывает соединение
func (n *NATSInvalidator) Close() error {
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		n.conn.Close()
		logging.Info("NATS invalidator closed")
	})
	return nil
}

// GetMetrics счётчики invalidator
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": n.publishedCount.Load(),
		"received_count":  n.receivedCount.Load(),
		"errors_count":    n.errorsCount.Load(),
		"connected":       n.conn.IsConnected(),
	}
}

func (n *NATSInvalidator) handleMessage(msg *nats.Msg) {
	n.receivedCount.Add(1)

	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		n.errorsCount.Add(1)
		logging.Warn("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if m.NodeID == n.nodeID || n.isDuplicate(m.Key) {
		return
	}
	n.recordKey(m.Key)

	n.mu.Lock()
	handler := n.handler
	n.mu.Unlock()
	if handler == nil {
		return
	}
	if err := handler(m.Key); err != nil {
		n.errorsCount.Add(1)
		logging.Warn("Invalidation handler failed for key %s: %v", m.Key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		logging.Warn("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}

func (n *NATSInvalidator) isDuplicate(key string) bool {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()
	lastSeen, ok := n.recentKeys[key]
	return ok && time.Since(lastSeen) < n.config.DedupeWindow
}

func (n *NATSInvalidator) recordKey(key string) {
	n.keysMutex.Lock()
	n.recentKeys[key] = time.Now()
	n.keysMutex.Unlock()
}

func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.keysMutex.Lock()
				for key, ts := range n.recentKeys {
					if time.Since(ts) > n.config.DedupeWindow {
						delete(n.recentKeys, key)
					}
				}
				n.keysMutex.Unlock()
			case <-n.stopCh:
				return
			}
		}
	}()
}
