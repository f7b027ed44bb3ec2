// Package clock предоставляет единственную точку входа для "текущего времени"
// внутри core-слоя (file service, upload assembler, reclamation loop), чтобы
// эти операции можно было тестировать с детерминированным временем вместо
// настоящего time.Now().
package clock

import (
	"sync"
	"time"
)

// Clock абстрагирует источник времени. File service получает Clock явным
// образом при создании (см. Design Note "Ambient framework globals ->
// explicit context" в SPEC_FULL.md) и берёт время из него вместо обращения
// к time.Now() напрямую.
type Clock interface {
	Now() time.Time
}

// System возвращает настоящее время и используется в production-коде.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// NewSystem ...
func NewSystem() Clock { return System{} }

// Fixed — детерминированный Clock для тестов: всегда возвращает заданное
// время до тех пор, пока его не сдвинут через Advance.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed создаёт Clock, зафиксированный на t (приводится к UTC).
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance сдвигает зафиксированное время вперёд на d и возвращает новое значение.
func (f *Fixed) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set переустанавливает зафиксированное время на t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}
