package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

var (
	// ErrUnknownPool is returned for a poolID the registry never tracked.
	ErrUnknownPool = errors.New("unknown pool")
	// ErrBaselineInProgress rejects a second concurrent baseline sequence for the same pool.
	ErrBaselineInProgress = errors.New("baseline already in progress")
	// ErrNotMonitoring rejects scheduler updates for pools outside monitoring.
	ErrNotMonitoring = errors.New("pool is not monitoring")
	// ErrBaselineNotAllowed is returned when the pool is past the baseline stage.
	ErrBaselineNotAllowed = errors.New("baseline not allowed in current state")
)

// entry serializa todas las escrituras de un pool. Nunca se mantiene el
// lock durante una llamada de red.
type entry struct {
	mu                 sync.Mutex
	rec                domain.PoolRecord
	baselineInProgress bool
}

// ChangeFunc se invoca con una copia del registro tras cada cambio, dentro
// del lock del pool. No debe bloquear ni volver a llamar al registry.
type ChangeFunc func(rec domain.PoolRecord)

// Registry es el dueño exclusivo de los PoolRecord. Los pools activos viven
// en pools; los terminales se mueven a retired como proyección de auditoría.
type Registry struct {
	mu       sync.RWMutex
	pools    map[string]*entry
	retired  map[string]domain.PoolRecord
	onChange ChangeFunc
	now      func() time.Time
}

// NewRegistry crea un registry vacío. onChange puede ser nil.
func NewRegistry(onChange ChangeFunc) *Registry {
	return &Registry{
		pools:    make(map[string]*entry),
		retired:  make(map[string]domain.PoolRecord),
		onChange: onChange,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Add registra un pool nuevo en pending. Si el pool ya se conoce (activo o
// retirado) no hace nada y devuelve added=false.
func (r *Registry) Add(ev domain.DiscoveryEvent) (domain.PoolRecord, bool, error) {
	if err := ev.Validate(); err != nil {
		return domain.PoolRecord{}, false, fmt.Errorf("lifecycle.Add: %w", err)
	}

	r.mu.Lock()
	if e, ok := r.pools[ev.PoolID]; ok {
		r.mu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.rec, false, nil
	}
	if rec, ok := r.retired[ev.PoolID]; ok {
		r.mu.Unlock()
		return rec, false, nil
	}
	e := &entry{rec: domain.NewPoolRecord(ev)}
	e.mu.Lock()
	r.pools[ev.PoolID] = e
	r.mu.Unlock()

	rec := e.rec
	r.notify(rec)
	e.mu.Unlock()
	return rec, true, nil
}

// Get devuelve una copia del registro, activo o retirado.
func (r *Registry) Get(poolID string) (domain.PoolRecord, bool) {
	r.mu.RLock()
	e, ok := r.pools[poolID]
	if !ok {
		rec, retired := r.retired[poolID]
		r.mu.RUnlock()
		return rec, retired
	}
	r.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Transition valida y aplica from → to. mutate (opcional) escribe campos
// adicionales sobre una copia; si la transición es inválida no se aplica nada.
// Un estado terminal saca el pool del conjunto activo.
func (r *Registry) Transition(poolID string, to domain.PoolState, mutate func(*domain.PoolRecord)) (domain.PoolRecord, error) {
	return r.transition(poolID, to, domain.CanTransition, mutate)
}

func (r *Registry) transition(
	poolID string,
	to domain.PoolState,
	check func(from, to domain.PoolState) error,
	mutate func(*domain.PoolRecord),
) (domain.PoolRecord, error) {
	e, err := r.entry(poolID)
	if err != nil {
		return domain.PoolRecord{}, fmt.Errorf("lifecycle.Transition %s → %s: %w", poolID, to, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := check(e.rec.State, to); err != nil {
		return e.rec, fmt.Errorf("lifecycle.Transition %s: %w", poolID, err)
	}

	next := e.rec
	if mutate != nil {
		mutate(&next)
	}
	next.PoolID = e.rec.PoolID
	next.State = to

	now := r.now()
	switch to {
	case domain.PoolExists:
		next.ExistsSince = &now
	case domain.PoolReady:
		next.ReadySince = &now
	case domain.PoolFailed, domain.PoolTerminated:
		next.TerminatedAt = &now
	}
	e.rec = next

	if to.IsTerminal() {
		r.retire(e)
	}
	r.notify(next)
	return next, nil
}

// Update aplica cambios del scheduler (last*, consecutiveErrors, pollInterval).
// El estado, la identidad y el baseline no se pueden modificar por aquí.
func (r *Registry) Update(poolID string, fn func(*domain.PoolRecord)) (domain.PoolRecord, error) {
	e, err := r.entry(poolID)
	if err != nil {
		return domain.PoolRecord{}, fmt.Errorf("lifecycle.Update %s: %w", poolID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != domain.PoolMonitoring {
		return e.rec, fmt.Errorf("lifecycle.Update %s (%s): %w", poolID, e.rec.State, ErrNotMonitoring)
	}

	next := e.rec
	fn(&next)

	// Sólo los campos del scheduler sobreviven.
	kept := e.rec
	kept.LastPrice = next.LastPrice
	kept.LastTVL = next.LastTVL
	kept.LastPolledAt = next.LastPolledAt
	kept.ConsecutiveErrors = next.ConsecutiveErrors
	kept.PollInterval = next.PollInterval
	kept.PriorityTier = next.PriorityTier
	e.rec = kept
	return kept, nil
}

// Remove termina un pool en monitoring con el motivo dado. Sobre un pool
// en otro estado, terminal o desconocido es un no-op y devuelve false.
func (r *Registry) Remove(poolID, reason string) bool {
	_, err := r.Transition(poolID, domain.PoolTerminated, func(p *domain.PoolRecord) {
		p.FailureReason = reason
	})
	return err == nil
}

// Stop termina un pool desde cualquier estado activo (parada manual, de
// emergencia o ventana vencida durante el baseline).
func (r *Registry) Stop(poolID, reason string) bool {
	canStop := func(from, _ domain.PoolState) error { return domain.CanStop(from) }
	_, err := r.transition(poolID, domain.PoolTerminated, canStop, func(p *domain.PoolRecord) {
		p.FailureReason = reason
	})
	return err == nil
}

// TryBeginBaseline marca el pool como "baseline en curso". Falla si ya hay
// una secuencia en curso o si el pool ya pasó la etapa de baseline.
func (r *Registry) TryBeginBaseline(poolID string) error {
	e, err := r.entry(poolID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.baselineInProgress {
		return ErrBaselineInProgress
	}
	if s := e.rec.State; s != domain.PoolPending && s != domain.PoolExists {
		return fmt.Errorf("%w: %s", ErrBaselineNotAllowed, s)
	}
	e.baselineInProgress = true
	return nil
}

// EndBaseline limpia la marca de baseline en curso.
func (r *Registry) EndBaseline(poolID string) {
	r.mu.RLock()
	e, ok := r.pools[poolID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.baselineInProgress = false
	e.mu.Unlock()
}

// List devuelve copias de todos los pools activos ordenados por descubrimiento.
func (r *Registry) List() []domain.PoolRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.pools))
	for _, e := range r.pools {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.PoolRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return out
}

// Retired devuelve las proyecciones terminales retenidas.
func (r *Registry) Retired() []domain.PoolRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PoolRecord, 0, len(r.retired))
	for _, rec := range r.retired {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return out
}

// CountByState cuenta pools activos y retirados por estado.
func (r *Registry) CountByState() map[domain.PoolState]int {
	counts := make(map[domain.PoolState]int)
	for _, rec := range r.List() {
		counts[rec.State]++
	}
	r.mu.RLock()
	for _, rec := range r.retired {
		counts[rec.State]++
	}
	r.mu.RUnlock()
	return counts
}

// Len devuelve la cantidad de pools activos.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

func (r *Registry) entry(poolID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.pools[poolID]
	_, retired := r.retired[poolID]
	r.mu.RUnlock()
	switch {
	case ok:
		return e, nil
	case retired:
		return nil, fmt.Errorf("%w: pool already closed", domain.ErrInvalidTransition)
	}
	return nil, ErrUnknownPool
}

// retire mueve e a retired. Se llama con e.mu tomado; el orden de locks
// entry → registry sólo se usa aquí y en ningún sitio se toma al revés
// mientras se espera un entry.
func (r *Registry) retire(e *entry) {
	r.mu.Lock()
	delete(r.pools, e.rec.PoolID)
	r.retired[e.rec.PoolID] = e.rec
	r.mu.Unlock()
	e.baselineInProgress = false
}

func (r *Registry) notify(rec domain.PoolRecord) {
	if r.onChange != nil {
		r.onChange(rec)
	}
}
