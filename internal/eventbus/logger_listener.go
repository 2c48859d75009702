package eventbus

import (
	"context"

	"github.com/annel0/voxel-agent/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus, logger *logging.Logger) (Subscription, error) {
	if logger == nil {
		logger = logging.Default()
	}
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		switch ev.EventType {
		case TypeNavigationFinished:
			var p NavigationFinished
			if err := ev.Decode(&p); err == nil {
				logger.Info("[EventBus] навигация %s: цель %v достигнута=%t, позиция %v, циклов %d", ev.CorrelationID, p.Target, p.Reached, p.Position, p.Cycles)
				return
			}
		case TypeReplanRequired:
			var p ReplanRequired
			if err := ev.Decode(&p); err == nil {
				logger.Info("[EventBus] навигация %s: перепланирование (%s) из %v", ev.CorrelationID, p.Reason, p.Position)
				return
			}
		}
		logger.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
