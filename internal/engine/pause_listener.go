package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ParsePauseSignal разбирает payload "<fingerprint|*>:on|off".
// Допускаются синонимы true/false и pause/resume.
func ParsePauseSignal(payload string) (target string, paused bool, ok bool) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 || idx == len(payload)-1 {
		return "", false, false
	}
	target, state := payload[:idx], strings.ToLower(payload[idx+1:])
	switch state {
	case "on", "true", "pause":
		return target, true, true
	case "off", "false", "resume":
		return target, false, true
	}
	return "", false, false
}

// ListenPauseResilient — «живучая» подписка на сигналы паузы из Redis.
// Сигнал применяется, если адресован активной политике или всем ("*").
// onReconnect вызывается после каждой успешной подписки (может быть nil).
func (e *Engine) ListenPauseResilient(ctx context.Context, rdb *redis.Client, channel string, onReconnect func() error) {
	log := e.logger.With(zap.String("chan", channel))
	for {
		if ctx.Err() != nil {
			return
		}
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			log.Error("failed to subscribe", zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				log.Error("sync failed on reconnect", zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				e.applyPauseSignal(msg.Payload)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (e *Engine) applyPauseSignal(payload string) {
	target, paused, ok := ParsePauseSignal(payload)
	if !ok {
		e.logger.Error("invalid pause signal", zap.String("payload", payload))
		return
	}
	if target != "*" && target != e.Fingerprint() {
		e.logger.Debug("pause signal for another policy", zap.String("target", target))
		return
	}
	if err := e.SetPause(paused); err != nil {
		e.logger.Warn("pause signal ignored", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
