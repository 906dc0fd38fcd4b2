package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
)

// PrimaryStore — основное durable-хранилище чекпоинтов (Postgres).
// Save обязан отбрасывать записи с sequence не выше сохраненного
// (domain.ErrStaleCheckpoint) — защита от перетирания свежего старым.
type PrimaryStore interface {
	Save(ctx context.Context, cp *domain.Checkpoint) error
	LoadLatest(ctx context.Context, agentID string) (*domain.Checkpoint, error)
	Prune(ctx context.Context, agentID string, keep int) error
}

// FallbackStore — запасной путь на случай лежащего primary (Redis).
// Хранит только последний чекпоинт агента: этого хватает для рестарта.
type FallbackStore interface {
	Save(ctx context.Context, cp *domain.Checkpoint) error
	LoadLatest(ctx context.Context, agentID string) (*domain.Checkpoint, error)
}

// DegradeHook дергается при каждом уходе на fallback (для метрик).
type DegradeHook func(agentID string)

// Store — чекпоинт-машина агентов. Ключевой инвариант: сбой персистентности
// НИКОГДА не роняет агента — максимум деградация с событием в логе.
type Store struct {
	primary  PrimaryStore
	fallback FallbackStore
	logger   *zap.Logger

	onDegrade DegradeHook

	mu   sync.Mutex
	seqs map[string]uint64 // per-agent последний выданный sequence

	// Очередь на асинхронный прунинг истории: Save/Load никогда не ждут его.
	pruneCh   chan string
	retention int
	wg        sync.WaitGroup
}

func NewStore(primary PrimaryStore, fallback FallbackStore, retention int, logger *zap.Logger) *Store {
	if retention <= 0 {
		retention = 20
	}
	return &Store{
		primary:   primary,
		fallback:  fallback,
		logger:    logger.Named("checkpoint"),
		seqs:      make(map[string]uint64),
		pruneCh:   make(chan string, 256),
		retention: retention,
	}
}

func (s *Store) SetDegradeHook(fn DegradeHook) { s.onDegrade = fn }

// Start поднимает фонового прунера.
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.pruner(ctx)
}

// Stop дожидается прунера. Вызывать после остановки всех рантаймов.
func (s *Store) Stop() {
	close(s.pruneCh)
	s.wg.Wait()
}

// Save пишет снапшот со следующим sequence. Ошибки хранилищ проглатываются
// осознанно: чекпоинт — best effort, падение записи не должно убить цикл агента.
func (s *Store) Save(ctx context.Context, agentID string, payload []byte) *domain.Checkpoint {
	cp := &domain.Checkpoint{
		AgentID:   agentID,
		Sequence:  s.nextSeq(ctx, agentID),
		Version:   domain.CheckpointVersion,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.primary.Save(ctx, cp); err != nil {
		if errors.Is(err, domain.ErrStaleCheckpoint) {
			// Кто-то успел записать свежее (например, параллельный рестарт).
			// Latest в хранилище и так новее — просто фиксируем факт.
			s.logger.Warn("stale checkpoint dropped",
				zap.String("agent_id", agentID),
				zap.Uint64("sequence", cp.Sequence))
			return cp
		}

		// Primary лежит — уходим на fallback. Это событие деградации.
		s.logger.Error("checkpoint degraded: primary store failed, using fallback",
			zap.String("agent_id", agentID),
			zap.Uint64("sequence", cp.Sequence),
			zap.Error(err))
		if s.onDegrade != nil {
			s.onDegrade(agentID)
		}

		if fbErr := s.fallback.Save(ctx, cp); fbErr != nil {
			// Оба пути мертвы. Снапшот потерян, но агент живет дальше.
			s.logger.Error("checkpoint lost: fallback store also failed",
				zap.String("agent_id", agentID),
				zap.Error(fbErr))
		}
		return cp
	}

	// Прунинг не должен блокировать горячий путь — сбрасываем в очередь
	select {
	case s.pruneCh <- agentID:
	default:
	}
	return cp
}

// LoadLatest достает последний снапшот: primary, потом fallback.
// (nil, nil) — агент свежий, стартует с пустым состоянием.
func (s *Store) LoadLatest(ctx context.Context, agentID string) (*domain.Checkpoint, error) {
	cp, err := s.primary.LoadLatest(ctx, agentID)
	if err != nil {
		s.logger.Warn("primary checkpoint read failed, trying fallback",
			zap.String("agent_id", agentID), zap.Error(err))
		cp, err = s.fallback.LoadLatest(ctx, agentID)
		if err != nil {
			return nil, err
		}
	} else if cp == nil {
		// В primary пусто: возможно, последние записи уезжали на fallback
		if fbCp, fbErr := s.fallback.LoadLatest(ctx, agentID); fbErr == nil && fbCp != nil {
			cp = fbCp
		}
	}

	if cp != nil {
		s.bumpSeq(agentID, cp.Sequence)
	}
	return cp, nil
}

// nextSeq выдает следующий монотонный sequence. При первом обращении
// к агенту подсматривает максимум в хранилищах.
func (s *Store) nextSeq(ctx context.Context, agentID string) uint64 {
	s.mu.Lock()
	last, seeded := s.seqs[agentID]
	s.mu.Unlock()

	if !seeded {
		if cp, err := s.primary.LoadLatest(ctx, agentID); err == nil && cp != nil {
			last = cp.Sequence
		}
		if cp, err := s.fallback.LoadLatest(ctx, agentID); err == nil && cp != nil && cp.Sequence > last {
			last = cp.Sequence
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.seqs[agentID]; cur > last {
		last = cur
	}
	next := last + 1
	s.seqs[agentID] = next
	return next
}

func (s *Store) bumpSeq(agentID string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seqs[agentID] < seq {
		s.seqs[agentID] = seq
	}
}

// pruner асинхронно подрезает историю до retention последних чекпоинтов.
func (s *Store) pruner(ctx context.Context) {
	defer s.wg.Done()

	for agentID := range s.pruneCh {
		pCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.primary.Prune(pCtx, agentID, s.retention); err != nil {
			s.logger.Warn("checkpoint prune failed",
				zap.String("agent_id", agentID), zap.Error(err))
		}
		cancel()

		select {
		case <-ctx.Done():
			// Дорабатываем то, что уже в очереди, новое не придет после close
		default:
		}
	}
}
