package main

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// stopFile en el directorio de trabajo dispara el emergency stop.
const stopFile = "STOP"

// watchStopFile revisa path cada every. Si aparece lo borra y llama a onStop una vez.
func watchStopFile(ctx context.Context, path string, every time.Duration, onStop func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err != nil {
				continue
			}
			slog.Warn("STOP file detected, running emergency stop", "path", path)
			if err := os.Remove(path); err != nil {
				slog.Warn("could not remove STOP file", "err", err)
			}
			onStop()
			return
		}
	}
}
