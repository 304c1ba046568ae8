package engine

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PauseState — последнее состояние паузы во флоте: Hash "<fingerprint|*>" -> on|off.
// Pub/Sub не хранит сообщения, поэтому инстанс, пропустивший сигнал,
// добирает состояние отсюда при старте и после каждого переподключения.
type PauseState struct {
	rdb    *redis.Client
	key    string
	engine *Engine
	logger *zap.Logger
}

func NewPauseState(e *Engine, rdb *redis.Client, key string) *PauseState {
	return &PauseState{
		rdb:    rdb,
		key:    key,
		engine: e,
		logger: e.logger.Named("pause-state").With(zap.String("key", key)),
	}
}

// Sync применяет сохранённое состояние к активной политике.
// Запись по отпечатку важнее записи "*". Нет ни той ни другой — политика не трогается.
func (s *PauseState) Sync(ctx context.Context) error {
	fp := s.engine.Fingerprint()
	if fp == "" {
		return ErrPolicyNotLoaded
	}
	vals, err := s.rdb.HMGet(ctx, s.key, fp, "*").Result()
	if err != nil {
		return fmt.Errorf("read pause state: %w", err)
	}
	for i, v := range vals {
		state, ok := v.(string)
		if !ok {
			continue
		}
		target := fp
		if i == 1 {
			target = "*"
		}
		_, paused, ok := ParsePauseSignal(target + ":" + state)
		if !ok {
			s.logger.Warn("malformed pause state", zap.String("target", target), zap.String("state", state))
			continue
		}
		if paused == s.engine.Status().Paused {
			return nil
		}
		s.logger.Info("pause state synced", zap.String("target", target), zap.Bool("paused", paused))
		return s.engine.SetPause(paused)
	}
	return nil
}

// PublishPause сохраняет состояние и рассылает сигнал одной транзакцией.
func PublishPause(ctx context.Context, rdb *redis.Client, stateKey, channel, target string, paused bool) (int64, error) {
	state := "off"
	if paused {
		state = "on"
	}
	var pub *redis.IntCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if stateKey != "" {
			pipe.HSet(ctx, stateKey, target, state)
		}
		pub = pipe.Publish(ctx, channel, target+":"+state)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pub.Val(), nil
}
