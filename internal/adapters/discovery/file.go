package discovery

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// FileSource reproduce eventos de descubrimiento desde un archivo JSONL:
// un DiscoveryEvent por línea. Líneas vacías o que empiezan con # se ignoran.
type FileSource struct {
	path  string
	delay time.Duration
	now   func() time.Time
}

// NewFileSource crea la fuente. delay separa eventos consecutivos.
func NewFileSource(path string, delay time.Duration) *FileSource {
	return &FileSource{path: path, delay: delay, now: func() time.Time { return time.Now().UTC() }}
}

// Run implementa ports.DiscoverySource.
func (f *FileSource) Run(ctx context.Context, out chan<- domain.DiscoveryEvent) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("discovery.Run: open %s: %w", f.path, err)
	}
	defer file.Close()

	n, err := f.replay(ctx, file, out)
	slog.Info("discovery file replayed", "path", f.path, "events", n)
	return err
}

func (f *FileSource) replay(ctx context.Context, r io.Reader, out chan<- domain.DiscoveryEvent) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	sent, line := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		ev, err := ParseEvent([]byte(text))
		if err != nil {
			slog.Warn("skipping discovery line", "path", f.path, "line", line, "err", err)
			continue
		}
		// Un replay representa pools recién creados: la ventana cuenta desde ahora.
		ev.DiscoveredAt = f.now()

		if sent > 0 && f.delay > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(f.delay):
			}
		}
		select {
		case out <- ev:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return sent, fmt.Errorf("discovery.Run: read %s: %w", f.path, err)
	}
	return sent, nil
}

// ParseEvent decodifica y valida un evento de descubrimiento.
func ParseEvent(data []byte) (domain.DiscoveryEvent, error) {
	var ev domain.DiscoveryEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("discovery.ParseEvent: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return ev, fmt.Errorf("discovery.ParseEvent: %w", err)
	}
	return ev, nil
}
