package main

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/poolwatch/internal/adapters/notify"
	"github.com/alejandrodnm/poolwatch/internal/adapters/storage"
	"github.com/alejandrodnm/poolwatch/internal/ports"
)

const reportLastTrades = 20

// runReport abre la base y imprime las estadísticas de trading.
func runReport(ctx context.Context, dsn string, console *notify.Console) error {
	store, err := storage.NewSQLiteStorage(dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return printReport(ctx, store, console)
}

func printReport(ctx context.Context, store ports.Storage, console *notify.Console) error {
	stats, err := store.GetTradeStats(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	trades, err := store.GetTrades(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	console.PrintReport(stats, trades, reportLastTrades)
	return nil
}
