package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// memStore — хранилище в памяти с отбраковкой stale-записей, как у Postgres.
type memStore struct {
	mu     sync.Mutex
	data   map[string][]*domain.Checkpoint
	failed bool // включает режим "хранилище лежит"
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]*domain.Checkpoint)}
}

func (m *memStore) Save(ctx context.Context, cp *domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errors.New("store is down")
	}
	history := m.data[cp.AgentID]
	if len(history) > 0 && cp.Sequence <= history[len(history)-1].Sequence {
		return fmt.Errorf("%w: seq %d", domain.ErrStaleCheckpoint, cp.Sequence)
	}
	m.data[cp.AgentID] = append(history, cp)
	return nil
}

func (m *memStore) LoadLatest(ctx context.Context, agentID string) (*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return nil, errors.New("store is down")
	}
	history := m.data[agentID]
	if len(history) == 0 {
		return nil, nil
	}
	return history[len(history)-1], nil
}

func (m *memStore) Prune(ctx context.Context, agentID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if history := m.data[agentID]; len(history) > keep {
		m.data[agentID] = history[len(history)-keep:]
	}
	return nil
}

func (m *memStore) setFailed(failed bool) {
	m.mu.Lock()
	m.failed = failed
	m.mu.Unlock()
}

func (m *memStore) count(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[agentID])
}

func TestStoreRoundTrip(t *testing.T) {
	primary, fallback := newMemStore(), newMemStore()
	s := NewStore(primary, fallback, 20, zap.NewNop())
	ctx := context.Background()

	cp1 := s.Save(ctx, "a1", []byte(`{"cycles":1}`))
	cp2 := s.Save(ctx, "a1", []byte(`{"cycles":2}`))

	assert.Equal(t, uint64(1), cp1.Sequence)
	assert.Equal(t, uint64(2), cp2.Sequence)
	assert.Equal(t, domain.CheckpointVersion, cp2.Version)

	got, err := s.LoadLatest(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Sequence)
	assert.Equal(t, []byte(`{"cycles":2}`), got.Payload)
}

func TestStoreLoadLatestEmptyIsNotError(t *testing.T) {
	s := NewStore(newMemStore(), newMemStore(), 20, zap.NewNop())

	cp, err := s.LoadLatest(context.Background(), "fresh-agent")
	require.NoError(t, err)
	assert.Nil(t, cp, "свежий агент стартует с пустым состоянием")
}

func TestStoreSequenceSeedsFromStorage(t *testing.T) {
	primary, fallback := newMemStore(), newMemStore()
	ctx := context.Background()

	// История прошлой жизни процесса
	require.NoError(t, primary.Save(ctx, &domain.Checkpoint{AgentID: "a1", Sequence: 7}))

	// Новый Store (рестарт процесса) продолжает нумерацию, а не начинает с 1
	s := NewStore(primary, fallback, 20, zap.NewNop())
	cp := s.Save(ctx, "a1", []byte("x"))
	assert.Equal(t, uint64(8), cp.Sequence)
}

func TestStoreStaleWriteRejectedByPrimary(t *testing.T) {
	primary, fallback := newMemStore(), newMemStore()
	ctx := context.Background()

	// В хранилище уже seq 7, попытка записать seq 5 отлетает
	require.NoError(t, primary.Save(ctx, &domain.Checkpoint{AgentID: "a1", Sequence: 7}))
	err := primary.Save(ctx, &domain.Checkpoint{AgentID: "a1", Sequence: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStaleCheckpoint)

	// Latest остался нетронутым
	got, err := primary.LoadLatest(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Sequence)
	_ = fallback
}

func TestStoreDegradesToFallback(t *testing.T) {
	primary, fallback := newMemStore(), newMemStore()
	s := NewStore(primary, fallback, 20, zap.NewNop())
	ctx := context.Background()

	degraded := 0
	s.SetDegradeHook(func(agentID string) { degraded++ })

	primary.setFailed(true)
	cp := s.Save(ctx, "a1", []byte("state"))

	require.NotNil(t, cp, "сбой персистентности не роняет агента")
	assert.Equal(t, 1, degraded)
	assert.Equal(t, 1, fallback.count("a1"), "снапшот уехал на fallback")

	// Чтение тоже уходит на fallback
	got, err := s.LoadLatest(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.Sequence, got.Sequence)
}

func TestStoreSurvivesTotalStorageLoss(t *testing.T) {
	primary, fallback := newMemStore(), newMemStore()
	s := NewStore(primary, fallback, 20, zap.NewNop())

	primary.setFailed(true)
	fallback.setFailed(true)

	// Оба пути мертвы: снапшот потерян, но вызов не паникует и не виснет
	cp := s.Save(context.Background(), "a1", []byte("state"))
	assert.NotNil(t, cp)
}

func TestStoreRecoversAfterPrimaryReturns(t *testing.T) {
	primary, fallback := newMemStore(), newMemStore()
	s := NewStore(primary, fallback, 20, zap.NewNop())
	ctx := context.Background()

	s.Save(ctx, "a1", []byte("v1"))
	primary.setFailed(true)
	s.Save(ctx, "a1", []byte("v2")) // уходит на fallback
	primary.setFailed(false)
	cp3 := s.Save(ctx, "a1", []byte("v3")) // снова primary

	assert.Equal(t, uint64(3), cp3.Sequence, "sequence монотонен сквозь деградацию")

	got, err := s.LoadLatest(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), got.Payload)
}

func TestStorePruneKeepsRetention(t *testing.T) {
	primary := newMemStore()
	s := NewStore(primary, newMemStore(), 3, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	for i := 0; i < 10; i++ {
		s.Save(ctx, "a1", []byte("x"))
	}
	s.Stop() // дожидается прунера

	assert.LessOrEqual(t, primary.count("a1"), 3)
}
