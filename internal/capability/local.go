package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "agentcore/pkg/logx"
)

// FileMemory is a minimal file-backed MemoryUpdater: one markdown file
// per key. Good enough for a single-process agent; the real memory/search
// engine can replace it without touching the executor.
type FileMemory struct {
	Dir string
}

func (m *FileMemory) Update(ctx context.Context, up MemoryUpdate) error {
	_ = ctx
	key := strings.TrimSpace(up.Key)
	if key == "" {
		return errors.New("memory key is empty")
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", key)
	if len(up.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n\n", strings.Join(up.Tags, ", "))
	}
	fmt.Fprintf(&b, "updated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString(up.Content)
	b.WriteString("\n")

	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return os.WriteFile(filepath.Join(m.Dir, name+".md"), []byte(b.String()), 0o644)
}

// LogSender logs outbound messages instead of delivering them. Used when
// no channel adapter is wired in.
type LogSender struct {
	Log logx.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	_ = ctx
	s.Log.Info("outbound message",
		logx.String("channel", msg.Channel),
		logx.String("recipient", msg.Recipient),
		logx.String("content", msg.Content))
	return nil
}
