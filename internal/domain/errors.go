package domain

import "errors"

// Таксономия ошибок ядра. Важно разделять recoverable и fatal:
// от этого зависит, перезапускаем ли мы агента или зовем оператора.
var (
	// ErrCircuitOpen — предохранитель разомкнут, зависимость не вызывалась.
	// Recoverable: вызывающий ждет cooldown и пробует снова.
	ErrCircuitOpen = errors.New("dependency circuit is open")

	// ErrRetriesExhausted — операция провалилась после всех попыток RetryPolicy.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrCheckpointDegraded — primary-хранилище чекпоинтов недоступно,
	// сработал fallback. Логируется, но НИКОГДА не валит агента.
	ErrCheckpointDegraded = errors.New("checkpoint store degraded to fallback")

	// ErrRestartCeiling — потолок авторестартов за скользящий час исчерпан.
	// Fatal для агента до ручного вмешательства.
	ErrRestartCeiling = errors.New("restart ceiling exceeded")

	// ErrHardRiskLimit — пробит жесткий лимит просадки. Форсирует PAUSED,
	// авто-резюма нет.
	ErrHardRiskLimit = errors.New("hard risk limit breached")

	// ErrConfigInvalid — битая конфигурация при спавне агента.
	// Fatal сразу, молча дефолтить запрещено.
	ErrConfigInvalid = errors.New("agent config invalid")

	// ErrAgentNotFound — агент отсутствует в реестре.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrStaleCheckpoint — попытка записать чекпоинт с sequence не выше
	// уже сохраненного. Запись отбрасывается, latest остается прежним.
	ErrStaleCheckpoint = errors.New("stale checkpoint rejected")
)
