package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "policy"
)

// Ключи для Hash (состояние)
const (
	// RedisKeyCounters — префикс окон счётчиков, дальше идёт ключ измерения.
	RedisKeyCounters = RedisNamespace + ":counters:"
	// RedisKeyPauseState — Hash последних сигналов паузы для догоняющих инстансов.
	RedisKeyPauseState = RedisNamespace + ":pause-state"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPause — сигнал паузы "<fingerprint|*>:on|off" для всего флота.
	RedisChanPause = RedisNamespace + ":pause-signal"
)
