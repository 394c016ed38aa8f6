// Package envfile appends flattened secrets to dotenv files.
//
// Every write produces one block:
//
//	#VaultEnv ==> dev -> kv -> app/db -> 2024-03-01T12:00:00.000Z
//
//	PASSWORD="s3cr3t"
//	PORT=5432
//
// A block appended to a non-empty file is separated from the previous
// content by one blank line.
package envfile

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/systmms/vaultenv/internal/config"
	"github.com/systmms/vaultenv/internal/flatten"
)

// Stdout is the Path that writes blocks to the Writer's Stdout.
const Stdout = "-"

// TimeFormat is the UTC timestamp of a block header, millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Block is one secret's worth of variables.
type Block struct {
	Origin string
	Server string
	Mount  string
	Secret string
	Time   time.Time
	Pairs  []flatten.Pair
}

// Header returns the comment line that opens the block.
func (b Block) Header() string {
	origin := b.Origin
	if origin == "" {
		origin = config.DefaultOrigin
	}
	return fmt.Sprintf("#%s ==> %s -> %s -> %s -> %s",
		origin, b.Server, b.Mount, b.Secret, b.Time.UTC().Format(TimeFormat))
}

// Render formats the block. prev is the tail of the existing content; when
// it is non-empty the block is preceded by a blank line.
func (b Block) Render(prev string) string {
	var buf strings.Builder
	if prev != "" {
		if !strings.HasSuffix(prev, "\n") {
			buf.WriteString("\n")
		}
		buf.WriteString("\n")
	}

	buf.WriteString(b.Header())
	buf.WriteString("\n\n")
	for _, p := range b.Pairs {
		buf.WriteString(p.String())
		buf.WriteString("\n")
	}
	return buf.String()
}

// Writer appends blocks to Path, creating it with mode 0600 when missing.
type Writer struct {
	Path   string
	Origin string
	Stdout io.Writer
	Clock  clock.Clock
}

// Append stamps b with the writer's origin and the current time and appends
// it. It returns the number of variables written.
func (w *Writer) Append(b Block) (int, error) {
	if b.Origin == "" {
		b.Origin = w.Origin
	}
	if b.Time.IsZero() {
		now := time.Now
		if w.Clock != nil {
			now = w.Clock.Now
		}
		b.Time = now()
	}

	if w.Path == Stdout || w.Path == "" {
		out := w.Stdout
		if out == nil {
			out = os.Stdout
		}
		if _, err := io.WriteString(out, b.Render("")); err != nil {
			return 0, err
		}
		return len(b.Pairs), nil
	}

	f, err := os.OpenFile(w.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", w.Path, err)
	}
	defer f.Close()

	tail, err := lastByte(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", w.Path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return 0, fmt.Errorf("failed to seek %s: %w", w.Path, err)
	}
	if _, err := f.WriteString(b.Render(tail)); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", w.Path, err)
	}
	return len(b.Pairs), f.Sync()
}

func lastByte(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", nil
	}

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
		return "", err
	}
	return string(buf), nil
}
