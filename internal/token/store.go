package token

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okonma/rendercache/internal/hash"
	"github.com/okonma/rendercache/internal/logging"
)

// StoreFileName is the flat file all tokens persist to, under the cache root.
const StoreFileName = "tokens.json"

// Store owns every Token. All mutations go through it, and every mutation is
// followed by a full rewrite of the backing file. Tokens are derived cache
// data, so a lost write is recoverable by re-tokenizing; persistence errors
// are therefore logged, never raised.
type Store struct {
	mu       sync.RWMutex
	tokens   map[string]*Token
	order    []string // insertion order, kept stable for UI display
	cacheDir string
	format   string
	filePath string
	logger   logging.Logger
	watchers []chan Event
}

// NewStore loads the persisted token file under cacheDir if present, runs
// the mandatory repair pass, and returns a ready store.
func NewStore(cacheDir, format string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	s := &Store{
		tokens:   make(map[string]*Token),
		cacheDir: cacheDir,
		format:   format,
		filePath: filepath.Join(cacheDir, StoreFileName),
		logger:   logger.WithComponent("token-store"),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	s.repair()
	return s, nil
}

// Create computes the fingerprint of the descriptor's summary and returns
// the existing Token for that identifier if one exists (the cache-hit path).
// Otherwise it constructs a new pending Token, persists the store and
// returns the new Token.
func (s *Store) Create(descriptor Descriptor) (*Token, error) {
	if descriptor.Name == "" {
		return nil, fmt.Errorf("descriptor name must not be empty")
	}

	fingerprint, err := hash.Summary(descriptor.Summary)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting descriptor: %w", err)
	}
	tokenID := ID(descriptor.Name, fingerprint)

	s.mu.Lock()
	if existing, ok := s.tokens[tokenID]; ok {
		copied := existing.clone()
		s.mu.Unlock()
		return copied, nil
	}

	now := time.Now().UTC()
	t := &Token{
		TokenID:    tokenID,
		Hash:       fingerprint,
		Name:       descriptor.Name,
		LayerRef:   descriptor.LayerRef,
		FrameRate:  descriptor.FrameRate,
		Duration:   descriptor.Duration,
		Width:      descriptor.Width,
		Height:     descriptor.Height,
		Status:     StatusPending,
		RenderPath: RenderDir(s.cacheDir, tokenID),
		FirstFrame: FirstFramePath(s.cacheDir, tokenID, s.format),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.tokens[tokenID] = t
	s.order = append(s.order, tokenID)
	s.save()
	copied := t.clone()
	s.mu.Unlock()

	s.notify(Event{Type: EventCreated, Token: copied, Timestamp: now})
	return copied, nil
}

// Get returns a copy of the Token, or false if no token has that identifier.
func (s *Store) Get(tokenID string) (*Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// All returns a snapshot of every Token in insertion order.
func (s *Store) All() []*Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Token, 0, len(s.order))
	for _, id := range s.order {
		if t, ok := s.tokens[id]; ok {
			result = append(result, t.clone())
		}
	}
	return result
}

// Update carries the optional fields merged into a Token alongside a status
// change. Zero values are left untouched; Cancelled is a pointer so it can
// be cleared explicitly.
type Update struct {
	RenderPath    string
	FirstFrame    string
	Error         string
	Cancelled     *bool
	RenderSeconds float64
	FailedAt      *time.Time
}

// UpdateStatus sets the Token's status, merges the extra fields, refreshes
// UpdatedAt and persists the store. It returns the updated Token, or an
// error if no token has that identifier. One full store write per call.
func (s *Store) UpdateStatus(tokenID string, status Status, extra *Update) (*Token, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid token status %q", status)
	}

	s.mu.Lock()
	t, ok := s.tokens[tokenID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("token %q not found", tokenID)
	}

	t.Status = status
	if extra != nil {
		if extra.RenderPath != "" {
			t.RenderPath = extra.RenderPath
		}
		if extra.FirstFrame != "" {
			t.FirstFrame = extra.FirstFrame
		}
		if extra.Error != "" {
			t.Error = extra.Error
		}
		if extra.Cancelled != nil {
			t.Cancelled = *extra.Cancelled
		}
		if extra.RenderSeconds != 0 {
			t.RenderSeconds = extra.RenderSeconds
		}
		if extra.FailedAt != nil {
			failedAt := *extra.FailedAt
			t.FailedAt = &failedAt
		}
	}
	t.UpdatedAt = time.Now().UTC()
	s.save()
	copied := t.clone()
	s.mu.Unlock()

	s.notify(Event{Type: EventUpdated, Token: copied, Timestamp: copied.UpdatedAt})
	return copied, nil
}

// MarkDirty transitions a token to dirty, invalidating its cached output.
func (s *Store) MarkDirty(tokenID string) (*Token, error) {
	return s.UpdateStatus(tokenID, StatusDirty, nil)
}

// RenderExists reports whether the token's first-frame file exists on disk.
// Used to validate that a ready status is trustworthy.
func (s *Store) RenderExists(tokenID string) bool {
	s.mu.RLock()
	t, ok := s.tokens[tokenID]
	if !ok {
		s.mu.RUnlock()
		return false
	}
	firstFrame := t.FirstFrame
	s.mu.RUnlock()

	if firstFrame == "" {
		return false
	}
	info, err := os.Stat(firstFrame)
	return err == nil && !info.IsDir()
}

// EnsureRenderDir creates the token's render directory if absent and
// returns its path.
func (s *Store) EnsureRenderDir(tokenID string) (string, error) {
	dir := RenderDir(s.cacheDir, tokenID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating render directory: %w", err)
	}
	return dir, nil
}

// CleanRender deletes the token's render directory and everything in it.
// Filesystem errors are logged, not raised: a half-cleaned directory will be
// caught by the next repair pass.
func (s *Store) CleanRender(tokenID string) {
	dir := RenderDir(s.cacheDir, tokenID)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn(context.Background(), err, "failed to clean render directory",
			"token_id", tokenID, "dir", dir)
	}
}

// Watch returns a channel receiving an Event for every token mutation.
// Slow consumers miss events rather than blocking the store.
func (s *Store) Watch() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 64)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *Store) notify(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, watcher := range s.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

// load reads the persisted [tokenId, Token] pair file if present.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading token store: %w", err)
	}

	var pairs []initializedPair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return fmt.Errorf("parsing token store %s: %w", s.filePath, err)
	}

	for _, pair := range pairs {
		t := pair.token
		s.tokens[pair.id] = t
		s.order = append(s.order, pair.id)
	}
	return nil
}

// repair demotes any token whose persisted status cannot be trusted after a
// restart: rendering tokens (no subprocess survived) and ready tokens whose
// first frame has gone missing both return to pending. Mandatory before the
// store is used.
func (s *Store) repair() {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for id, t := range s.tokens {
		switch t.Status {
		case StatusRendering:
			t.Status = StatusPending
			t.UpdatedAt = time.Now().UTC()
			changed = true
			s.logger.Info(context.Background(), "repaired interrupted render", "token_id", id)
		case StatusReady, StatusSwapped:
			if !fileExists(t.FirstFrame) {
				t.Status = StatusPending
				t.UpdatedAt = time.Now().UTC()
				changed = true
				s.logger.Info(context.Background(), "repaired token with missing output", "token_id", id)
			}
		}
	}
	if changed {
		s.save()
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// initializedPair unmarshals one [tokenId, Token] entry.
type initializedPair struct {
	id    string
	token *Token
}

func (p *initializedPair) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("token store entry must be a [tokenId, token] pair, got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.id); err != nil {
		return err
	}
	p.token = &Token{}
	return json.Unmarshal(parts[1], p.token)
}

// save rewrites the whole store file as an ordered array of [tokenId, Token]
// pairs, via temp-file-then-rename so a crash mid-write never leaves a
// truncated store. Callers must hold s.mu. Errors are logged, not raised:
// in-memory state stays authoritative for the rest of the process lifetime.
func (s *Store) save() {
	pairs := make([][2]interface{}, 0, len(s.order))
	for _, id := range s.order {
		if t, ok := s.tokens[id]; ok {
			pairs = append(pairs, [2]interface{}{id, t})
		}
	}

	raw, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		s.logger.Error(context.Background(), err, "failed to serialize token store")
		return
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		s.logger.Error(context.Background(), err, "failed to write token store", "path", tmp)
		return
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		s.logger.Error(context.Background(), err, "failed to replace token store", "path", s.filePath)
	}
}
