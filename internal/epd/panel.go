// Package epd drives tri-color e-paper panels. Images arrive as two packed
// 1bpp planes (see internal/convert) where a cleared bit means ink.
package epd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	appLog "inkcal/internal/log"
)

// Panel is a display that accepts black and red planes.
type Panel interface {
	// Show uploads both planes and refreshes the panel. It blocks until
	// the panel reports idle or ctx is done.
	Show(ctx context.Context, black, red []byte) error
	// Sleep puts the controller into deep sleep; the next Show wakes it.
	Sleep() error
	Close() error
}

// FilePanel writes planes to black.bin and red.bin in Dir instead of a
// physical display.
type FilePanel struct {
	Dir string
}

// NewFilePanel creates dir if needed.
func NewFilePanel(dir string) (*FilePanel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("epd: create dump dir: %w", err)
	}
	return &FilePanel{Dir: dir}, nil
}

// Show implements Panel.
func (p *FilePanel) Show(ctx context.Context, black, red []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(black) != len(red) {
		return fmt.Errorf("epd: plane sizes differ (%d vs %d)", len(black), len(red))
	}
	for name, plane := range map[string][]byte{"black.bin": black, "red.bin": red} {
		if err := writeFileAtomic(filepath.Join(p.Dir, name), plane); err != nil {
			return fmt.Errorf("epd: write %s: %w", name, err)
		}
	}
	appLog.Info("planes written", "dir", p.Dir, "bytes", len(black))
	return nil
}

// Sleep implements Panel.
func (p *FilePanel) Sleep() error { return nil }

// Close implements Panel.
func (p *FilePanel) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
