package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"
)

// MockStrategy — имитация торговой стратегии для paper-режима и демо-стенда.
// Держит счетчик циклов как "состояние", чтобы прогонять чекпоинты end-to-end.
type MockStrategy struct {
	mu         sync.Mutex
	Cycles     int64
	FailEveryN int64 // 0 — без сбоев; N — каждый N-й цикл возвращает ошибку

	Symbol string
	Exec   Execution // nil — цикл без исполнения (чистый счетчик)
}

func (s *MockStrategy) GenerateSignal(ctx context.Context, market MarketSnapshot) (*Signal, error) {
	// Имитируем задержку расчета 5-50мс
	latency := time.Duration(5+rand.IntN(45)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Примерно в половине циклов сигнала нет
	if rand.IntN(2) == 0 {
		return nil, nil
	}

	side := "buy"
	if rand.IntN(2) == 0 {
		side = "sell"
	}
	return &Signal{
		Symbol:     market.Symbol,
		Side:       side,
		Quantity:   float64(1+rand.IntN(10)) / 10,
		Confidence: 0.5 + rand.Float64()/2,
	}, nil
}

func (s *MockStrategy) OnCycle(ctx context.Context) error {
	s.mu.Lock()
	s.Cycles++
	cycle := s.Cycles
	s.mu.Unlock()

	if s.FailEveryN > 0 && cycle%s.FailEveryN == 0 {
		return fmt.Errorf("market data feed hiccup at cycle %d", cycle)
	}

	sig, err := s.GenerateSignal(ctx, MarketSnapshot{Symbol: s.Symbol, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	if sig == nil || s.Exec == nil {
		return nil // в этом цикле торговать нечего
	}

	_, err = s.Exec.PlaceOrder(ctx, *sig)
	return err
}

func (s *MockStrategy) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(map[string]int64{"cycles": s.Cycles})
}

func (s *MockStrategy) Restore(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state map[string]int64
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("mock strategy: broken snapshot: %w", err)
	}
	s.Cycles = state["cycles"]
	return nil
}

// MockExecution — paper-исполнение: ордера заполняются мгновенно, баланс виртуальный.
type MockExecution struct {
	mu      sync.Mutex
	Balance float64
	orders  int
}

func (e *MockExecution) PlaceOrder(ctx context.Context, sig Signal) (string, error) {
	if sig.Quantity <= 0 {
		// Бизнес-валидация: такое ретраить бессмысленно
		return "", NonRetryable(fmt.Errorf("order quantity must be positive, got %f", sig.Quantity))
	}

	latency := time.Duration(10+rand.IntN(90)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders++
	return fmt.Sprintf("paper-%06d", e.orders), nil
}

func (e *MockExecution) GetBalance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Balance, nil
}

func (e *MockExecution) GetPositions(ctx context.Context) ([]Position, error) {
	return nil, nil
}
