package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// Storage persiste pools, snapshots y trades cerrados.
type Storage interface {
	// UpsertPool guarda el estado actual de un pool (insert o update).
	UpsertPool(ctx context.Context, pool domain.PoolRecord) error

	// AppendSnapshot agrega un snapshot de métricas al histórico.
	AppendSnapshot(ctx context.Context, snap domain.MetricsSnapshot) error

	// AppendTrade agrega una posición cerrada.
	AppendTrade(ctx context.Context, rec domain.PositionExitRecord) error

	// GetSnapshots devuelve los snapshots de un pool en el rango dado, ordenados por tiempo.
	GetSnapshots(ctx context.Context, poolID string, from, to time.Time) ([]domain.MetricsSnapshot, error)

	// GetTrades devuelve todos los trades cerrados, más recientes primero.
	GetTrades(ctx context.Context) ([]domain.PositionExitRecord, error)

	// GetTradeStats agrega todos los trades persistidos.
	GetTradeStats(ctx context.Context) (domain.TradeStats, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}

// Recorder is the fire-and-forget persistence used on the hot path.
// Calls never block the caller and failures are only logged.
type Recorder interface {
	RecordPool(pool domain.PoolRecord)
	AppendSnapshot(snap domain.MetricsSnapshot)
	AppendTrade(rec domain.PositionExitRecord)
}
