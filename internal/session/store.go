// Package session implements the directory-backed, resumable session store
// described in spec.md §4.H: one JSON metadata file and one JSON history
// file per session under ${HOME}/.ggcode/sessions/, a ".current" pointer
// file, and fork/export/import/cleanup operations.
//
// Grounded on the teacher's internal/sessions/manager.go for the atomic
// snapshot-under-lock-then-rename write pattern and directory-backed
// loadAll-on-startup model; the composite agent:{agentId}:{scope} key
// scheme and its key.go routing helpers don't carry over — this store
// keys sessions by a flat random hex id with parentId-based forking, which
// the teacher's package has no equivalent of.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
)

// Stats summarizes a session's filesystem footprint, accumulated from the
// deltas passed to UpdateSummary (the agent loop's summary hook passes
// zero additions, zero deletions and no files).
type Stats struct {
	Additions     int       `json:"additions"`
	Deletions     int       `json:"deletions"`
	ModifiedFiles []string  `json:"modifiedFiles,omitempty"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// Meta is the spec.md §5 Session record persisted to <id>.json.
type Meta struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	AgentType    string     `json:"agentType"`
	ParentID     string     `json:"parentId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
	MessageCount int        `json:"messageCount"`
	Stats        *Stats     `json:"stats,omitempty"`
	Summary      string     `json:"summary,omitempty"`
}

// Config parameterizes eviction and cleanup, per spec.md §6 sessions
// configuration.
type Config struct {
	Dir                 string
	MaxSessions         int
	CleanupIntervalHours int
	MaxInactiveDays      int
	PreserveRecent       int
}

// DefaultConfig points at ${HOME}/.ggcode/sessions with the spec's default
// retention knobs.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Dir:                  filepath.Join(home, ".ggcode", "sessions"),
		MaxSessions:          200,
		CleanupIntervalHours: 24,
		MaxInactiveDays:      30,
		PreserveRecent:       10,
	}
}

// Store manages session metadata + history files and the .current pointer.
type Store struct {
	mu  sync.RWMutex
	cfg Config
	idx *index // optional sqlite side-car; nil is a valid, fully-functional state

	stopCleanup chan struct{}
}

// New opens (and creates, if absent) the session directory, then opens and
// rebuilds the optional sqlite index from the on-disk metadata. A failure
// to open the index is non-fatal — the store degrades to JSON-only.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{cfg: cfg}

	if ix, err := openIndex(filepath.Join(cfg.Dir, "sessions.db")); err == nil {
		s.idx = ix
		if all, err := s.listLocked(); err == nil {
			ix.rebuild(all)
		}
	}
	return s, nil
}

func (s *Store) metaPath(id string) string    { return filepath.Join(s.cfg.Dir, id+".json") }
func (s *Store) historyPath(id string) string { return filepath.Join(s.cfg.Dir, id+"-history.json") }
func (s *Store) currentPath() string          { return filepath.Join(s.cfg.Dir, ".current") }

// NewID mints a 128-bit-hex session id.
func NewID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Create starts a new session, evicting the least-recently-active session
// beyond max_sessions (outside preserve_recent) if the store is at capacity.
func (s *Store) Create(title, agentType, parentID string) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.evictIfFullLocked(); err != nil {
		return nil, err
	}

	now := time.Now()
	meta := &Meta{
		ID:           NewID(),
		Title:        title,
		AgentType:    agentType,
		ParentID:     parentID,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}

	if err := s.writeMetaLocked(meta); err != nil {
		return nil, err
	}
	if err := s.writeHistoryLocked(meta.ID, nil); err != nil {
		return nil, err
	}
	if err := s.setCurrentLocked(meta.ID); err != nil {
		return nil, err
	}
	return meta, nil
}

// Switch makes id the current session, after verifying it exists.
func (s *Store) Switch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.readMetaLocked(id); err != nil {
		return err
	}
	return s.setCurrentLocked(id)
}

// Current returns the metadata of the current session, if one is set.
func (s *Store) Current() (*Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, err := s.currentIDLocked()
	if err != nil {
		return nil, err
	}
	return s.readMetaLocked(id)
}

// Delete removes a session's files. If it was the current session, falls
// back to the most-recently-active remaining session, or clears the
// pointer if none remain.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasCurrent := false
	if curID, err := s.currentIDLocked(); err == nil && curID == id {
		wasCurrent = true
	}

	os.Remove(s.metaPath(id))
	os.Remove(s.historyPath(id))
	s.idx.remove(id)

	if !wasCurrent {
		return nil
	}

	all, err := s.listLocked()
	if err != nil || len(all) == 0 {
		os.Remove(s.currentPath())
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastActiveAt.After(all[j].LastActiveAt) })
	return s.setCurrentLocked(all[0].ID)
}

// Fork creates a new session that is a prefix copy of src's history up to
// (and including) messageIndex, or the whole history if messageIndex < 0.
// The fork's title is "<original title> (fork #N)".
func (s *Store) Fork(srcID string, messageIndex int) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.readMetaLocked(srcID)
	if err != nil {
		return nil, err
	}
	history, err := s.readHistoryLocked(srcID)
	if err != nil {
		return nil, err
	}

	prefix := history
	if messageIndex >= 0 && messageIndex < len(history) {
		prefix = append([]gctx.Message{}, history[:messageIndex+1]...)
	}

	forkNum := 1 + strings.Count(src.Title, "(fork #")
	title := fmt.Sprintf("%s (fork #%d)", strings.SplitN(src.Title, " (fork #", 2)[0], forkNum)

	now := time.Now()
	fork := &Meta{
		ID:           NewID(),
		Title:        title,
		AgentType:    src.AgentType,
		ParentID:     src.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
		MessageCount: len(prefix),
	}
	if err := s.writeMetaLocked(fork); err != nil {
		return nil, err
	}
	if err := s.writeHistoryLocked(fork.ID, prefix); err != nil {
		return nil, err
	}
	return fork, nil
}

// Rename updates a session's title in place.
func (s *Store) Rename(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.readMetaLocked(id)
	if err != nil {
		return err
	}
	meta.Title = title
	meta.UpdatedAt = time.Now()
	return s.writeMetaLocked(meta)
}

// UpdateSummary atomically merges additive stats deltas and replaces the
// summary text.
func (s *Store) UpdateSummary(id, summary string, additions, deletions int, modifiedFiles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.readMetaLocked(id)
	if err != nil {
		return err
	}
	if meta.Stats == nil {
		meta.Stats = &Stats{}
	}
	meta.Stats.Additions += additions
	meta.Stats.Deletions += deletions
	meta.Stats.ModifiedFiles = unionStrings(meta.Stats.ModifiedFiles, modifiedFiles)
	meta.Stats.GeneratedAt = time.Now()
	if summary != "" {
		meta.Summary = summary
	}
	meta.UpdatedAt = time.Now()
	return s.writeMetaLocked(meta)
}

// AppendMessages appends to a session's history file and refreshes its
// activity timestamps and message count.
func (s *Store) AppendMessages(id string, messages []gctx.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.readHistoryLocked(id)
	if err != nil {
		return err
	}
	history = append(history, messages...)
	if err := s.writeHistoryLocked(id, history); err != nil {
		return err
	}

	meta, err := s.readMetaLocked(id)
	if err != nil {
		return err
	}
	meta.MessageCount = len(history)
	now := time.Now()
	meta.UpdatedAt = now
	meta.LastActiveAt = now
	return s.writeMetaLocked(meta)
}

// History returns a session's full message history.
func (s *Store) History(id string) ([]gctx.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readHistoryLocked(id)
}

// List returns all session metadata, most-recently-active first.
func (s *Store) List() ([]*Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastActiveAt.After(all[j].LastActiveAt) })
	return all, nil
}

// Export serializes a session's metadata + history into one importable blob.
func (s *Store) Export(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, err := s.readMetaLocked(id)
	if err != nil {
		return nil, err
	}
	history, err := s.readHistoryLocked(id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(exportBundle{Meta: *meta, History: history}, "", "  ")
}

type exportBundle struct {
	Meta    Meta            `json:"meta"`
	History []gctx.Message  `json:"history"`
}

// Import loads an exported bundle as a brand-new session (fresh id, no
// parent link — an imported session is not considered a fork of anything
// in this store).
func (s *Store) Import(data []byte) (*Meta, error) {
	var bundle exportBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	meta := &Meta{
		ID:           NewID(),
		Title:        bundle.Meta.Title,
		AgentType:    bundle.Meta.AgentType,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
		MessageCount: len(bundle.History),
		Summary:      bundle.Meta.Summary,
	}
	if err := s.writeMetaLocked(meta); err != nil {
		return nil, err
	}
	if err := s.writeHistoryLocked(meta.ID, bundle.History); err != nil {
		return nil, err
	}
	return meta, nil
}

// ManualCleanup deletes sessions inactive longer than max_inactive_days,
// always preserving the preserve_recent most-recently-active sessions and
// never deleting the current session. Returns the count removed.
func (s *Store) ManualCleanup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *Store) cleanupLocked() (int, error) {
	all, err := s.listLocked()
	if err != nil {
		return 0, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastActiveAt.After(all[j].LastActiveAt) })

	curID, _ := s.currentIDLocked()
	cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxInactiveDays)

	removed := 0
	for i, meta := range all {
		if i < s.cfg.PreserveRecent {
			continue
		}
		if meta.ID == curID {
			continue
		}
		if meta.LastActiveAt.After(cutoff) {
			continue
		}
		os.Remove(s.metaPath(meta.ID))
		os.Remove(s.historyPath(meta.ID))
		s.idx.remove(meta.ID)
		removed++
	}
	return removed, nil
}

// StartBackgroundCleanup runs ManualCleanup on cleanup_interval_hours until
// Close is called.
func (s *Store) StartBackgroundCleanup() {
	if s.cfg.CleanupIntervalHours <= 0 {
		return
	}
	s.stopCleanup = make(chan struct{})
	ticker := time.NewTicker(time.Duration(s.cfg.CleanupIntervalHours) * time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.cleanupLocked()
				s.mu.Unlock()
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

// Close stops the background cleanup timer, if running, and the sqlite
// index, if one was opened.
func (s *Store) Close() {
	if s.stopCleanup != nil {
		close(s.stopCleanup)
	}
	s.idx.close()
}

// SearchTitles queries the sqlite index for sessions whose title contains
// substr. The second return reports whether the index was available; a
// caller should fall back to filtering List() itself when it's false.
func (s *Store) SearchTitles(substr string, limit int) ([]IndexRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.search(substr, limit)
}

// evictIfFullLocked removes the single least-recently-active session
// outside the preserve_recent window when the store is at max_sessions
// capacity, making room for the session about to be created.
func (s *Store) evictIfFullLocked() error {
	all, err := s.listLocked()
	if err != nil || len(all) < s.cfg.MaxSessions {
		return nil
	}

	mostRecent := append([]*Meta{}, all...)
	sort.Slice(mostRecent, func(i, j int) bool { return mostRecent[i].LastActiveAt.After(mostRecent[j].LastActiveAt) })
	preserved := make(map[string]bool, s.cfg.PreserveRecent)
	n := s.cfg.PreserveRecent
	if n > len(mostRecent) {
		n = len(mostRecent)
	}
	for _, m := range mostRecent[:n] {
		preserved[m.ID] = true
	}

	sort.Slice(all, func(i, j int) bool { return all[i].LastActiveAt.Before(all[j].LastActiveAt) })
	for _, meta := range all {
		if preserved[meta.ID] {
			continue
		}
		os.Remove(s.metaPath(meta.ID))
		os.Remove(s.historyPath(meta.ID))
		s.idx.remove(meta.ID)
		return nil
	}
	return nil
}

func (s *Store) listLocked() ([]*Meta, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var out []*Meta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), "-history.json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		meta, err := s.readMetaLocked(id)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *Store) readMetaLocked(id string) (*Meta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) writeMetaLocked(meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(s.cfg.Dir, s.metaPath(meta.ID), data); err != nil {
		return err
	}
	s.idx.upsert(meta) // best-effort; JSON write above is what counts
	return nil
}

func (s *Store) readHistoryLocked(id string) ([]gctx.Message, error) {
	data, err := os.ReadFile(s.historyPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var history []gctx.Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) writeHistoryLocked(id string, history []gctx.Message) error {
	if history == nil {
		history = []gctx.Message{}
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.cfg.Dir, s.historyPath(id), data)
}

func (s *Store) currentIDLocked() (string, error) {
	data, err := os.ReadFile(s.currentPath())
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("no current session set")
	}
	return id, nil
}

func (s *Store) setCurrentLocked(id string) error {
	return atomicWrite(s.cfg.Dir, s.currentPath(), []byte(id))
}

// atomicWrite matches the teacher's Save() pattern: temp file in the same
// directory, write, sync, close, then rename over the destination.
func atomicWrite(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".ggcode-session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func unionStrings(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
