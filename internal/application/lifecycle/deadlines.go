package lifecycle

import (
	"sync"
	"time"
)

// Deadlines es un conjunto de timers cancelables indexados por poolID.
// Programar un pool que ya tiene timer lo reemplaza.
type Deadlines struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	seq    map[string]uint64
	next   uint64 // nunca se reinicia: un disparo viejo no puede coincidir con uno nuevo
}

func NewDeadlines() *Deadlines {
	return &Deadlines{
		timers: make(map[string]*time.Timer),
		seq:    make(map[string]uint64),
	}
}

// Schedule ejecuta fn después de d salvo que se cancele o reemplace antes.
func (d *Deadlines) Schedule(poolID string, after time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[poolID]; ok {
		t.Stop()
	}
	d.next++
	mySeq := d.next
	d.seq[poolID] = mySeq

	d.timers[poolID] = time.AfterFunc(after, func() {
		d.mu.Lock()
		// Un Schedule o Cancel posterior invalida este disparo.
		if d.seq[poolID] != mySeq {
			d.mu.Unlock()
			return
		}
		delete(d.timers, poolID)
		delete(d.seq, poolID)
		d.mu.Unlock()
		fn()
	})
}

// Cancel detiene el timer del pool. Devuelve false si no había ninguno.
func (d *Deadlines) Cancel(poolID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.timers[poolID]
	if !ok {
		return false
	}
	t.Stop()
	delete(d.timers, poolID)
	delete(d.seq, poolID)
	return true
}

// CancelAll detiene todos los timers pendientes y devuelve cuántos había.
func (d *Deadlines) CancelAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.timers)
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
		delete(d.seq, id)
	}
	return n
}

// Pending devuelve cuántos timers siguen programados.
func (d *Deadlines) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
