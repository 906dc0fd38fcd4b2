package journal

/*
Журнал жизненного цикла площадки (forensic trail).

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят в буферизованный канал и не тормозят
  горячие пути Supervisor/DecisionEngine. Задержки БД не влияют на рестарты.
- Batching: накопление в памяти и пакетная запись (Bulk Insert) в PostgreSQL
  по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью. Закрытие входного канала + sync.WaitGroup гарантируют Final Flush —
  переезд процесса не теряет историю.
- Load Shedding: при переполненном буфере событие уходит в обычный лог,
  но не блокирует вызывающего.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются записи журнала
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// FillGauge — хук заполненности буфера для метрик (backpressure).
type FillGauge func(n int)

type Journal struct {
	ch     chan Event
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup
	gauge  FillGauge

	batchSize     int
	flushInterval time.Duration

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Record после Stop
	isClosed int32
}

func New(repo StorageInterface, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Journal {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:            make(chan Event, 10000),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "journal")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (j *Journal) SetFillGauge(fn FillGauge) { j.gauge = fn }

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход и ждет, пока воркер допишет остатки.
func (j *Journal) Stop() {
	atomic.StoreInt32(&j.isClosed, 1)

	// Крошечная пауза, чтобы инфлайт Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

// Record принимает событие. Никогда не блокирует и не возвращает ошибок:
// журнал — вспомогательный слой, он не имеет права мешать супервизии.
func (j *Journal) Record(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("journal event dropped: journal is stopping",
			zap.String("agent_id", event.AgentID), zap.String("type", string(event.Type)))
		return
	}

	select {
	case j.ch <- event:
		if j.gauge != nil {
			j.gauge(len(j.ch))
		}
	default:
		// Буфер переполнен (Backpressure) — сбрасываем нагрузку, но след
		// оставляем в обычном логе, чтобы история не пропала бесследно
		j.logger.Error("journal_buffer_overflow",
			zap.String("agent_id", event.AgentID),
			zap.String("type", string(event.Type)),
			zap.String("reason", event.Reason))
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Event, 0, j.batchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на шатдауне уже может быть закрыт
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop() — самодостаточный сигнал завершения:
				// сначала вычитываются остатки очереди, только потом ok==false
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
