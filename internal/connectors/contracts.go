package connectors

import (
	"context"
	"time"
)

// Контракты внешних коллабораторов. Ядро супервизии их ПОТРЕБЛЯЕТ,
// но никогда не реализует торговую математику само.

// MarketSnapshot — срез рынка, который скармливается стратегии на цикле.
type MarketSnapshot struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Volume    float64
	Timestamp time.Time
}

// Signal — торговый сигнал стратегии. nil означает "в этом цикле сидим тихо".
type Signal struct {
	Symbol     string
	Side       string // "buy" / "sell"
	Quantity   float64
	Confidence float64
}

// Strategy — торговая логика одного агента.
//   - Snapshot/Restore работают с непрозрачным блобом чекпоинта: только
//     стратегия знает схему своего состояния.
//   - Ошибки OnCycle ловит AgentRuntime, они НИКОГДА не валят цикл-луп.
type Strategy interface {
	GenerateSignal(ctx context.Context, market MarketSnapshot) (*Signal, error)
	OnCycle(ctx context.Context) error
	Snapshot() ([]byte, error)
	Restore(payload []byte) error
}

// Position — открытая позиция на бирже.
type Position struct {
	Symbol   string
	Quantity float64
	AvgPrice float64
}

// Execution абстрагирует paper vs live торговлю. Вызывается стратегией,
// не ядром напрямую.
type Execution interface {
	PlaceOrder(ctx context.Context, sig Signal) (orderID string, err error)
	GetBalance(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]Position, error)
}
