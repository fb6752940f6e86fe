package files

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sandevgo/contextd/internal/core"
	"github.com/sandevgo/contextd/pkg/atomicfile"
	"github.com/sandevgo/contextd/pkg/log"
)

const ext = ".json"

// Store keeps one JSON document per conversation in a directory, named
// <id>.json.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.dir, id+ext)
}

func (s *Store) read(path string) (*core.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var conv core.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if conv.ID == "" {
		conv.ID = strings.TrimSuffix(filepath.Base(path), ext)
	}
	if conv.UpdatedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			conv.UpdatedAt = info.ModTime().UTC()
		}
	}
	return &conv, nil
}

func (s *Store) LoadConversation(ctx context.Context, id string) (*core.Conversation, error) {
	if !validID(id) {
		return nil, core.ErrConversationNotFound
	}

	conv, err := s.read(s.filePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

// ListRecentConversations skips files it cannot decode.
func (s *Store) ListRecentConversations(ctx context.Context, limit int) ([]core.Conversation, error) {
	logger := log.FromCtx(ctx)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []core.Conversation{}, nil
		}
		return nil, err
	}

	convs := make([]core.Conversation, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conv, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable conversation")
			continue
		}
		convs = append(convs, *conv)
	}

	slices.SortFunc(convs, func(a, b core.Conversation) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), strings.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// Save writes conv atomically, stamping UpdatedAt when it is unset.
func (s *Store) Save(ctx context.Context, conv *core.Conversation) error {
	if !validID(conv.ID) {
		return fmt.Errorf("invalid conversation id %q", conv.ID)
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return atomicfile.Write(atomicfile.OSFS{}, s.filePath(conv.ID), data, 0o644)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return core.ErrConversationNotFound
	}
	if err := os.Remove(s.filePath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.ErrConversationNotFound
		}
		return err
	}
	return nil
}

func (s *Store) WatchPath() string {
	return s.dir
}

// ResolveChange maps <dir>/<id>.json to id. Temporary files written by Save
// are ignored; their final rename reports the real file.
func (s *Store) ResolveChange(path string) (string, bool) {
	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(s.dir) {
		return "", false
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
		return "", false
	}
	id := strings.TrimSuffix(name, ext)
	return id, validID(id)
}
