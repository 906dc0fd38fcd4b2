package floor

import "sync"

// CycleRing — кольцевой буфер фиксированной емкости для истории исходов
// циклов. Память ограничена независимо от того, сколько дней живет агент:
// курсор ходит по кругу, старейшие записи затираются.
type CycleRing struct {
	mu     sync.Mutex
	buf    []CycleOutcome
	cursor int
	filled bool
}

func NewCycleRing(capacity int) *CycleRing {
	if capacity <= 0 {
		capacity = 64
	}
	return &CycleRing{buf: make([]CycleOutcome, capacity)}
}

func (r *CycleRing) Push(o CycleOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.cursor] = o
	r.cursor++
	if r.cursor == len(r.buf) {
		r.cursor = 0
		r.filled = true
	}
}

// Recent возвращает записи от старых к новым.
func (r *CycleRing) Recent() []CycleOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		out := make([]CycleOutcome, r.cursor)
		copy(out, r.buf[:r.cursor])
		return out
	}

	out := make([]CycleOutcome, 0, len(r.buf))
	out = append(out, r.buf[r.cursor:]...)
	out = append(out, r.buf[:r.cursor]...)
	return out
}

func (r *CycleRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filled {
		return len(r.buf)
	}
	return r.cursor
}
