// Package sessions persists the chat → engine-session mapping across
// restarts. State lives in a single JSON file next to the config; every
// mutating operation saves before returning, and every operation re-reads
// the file when its mtime changed so concurrent processes stay coherent.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/takohq/tako/internal/events"
)

const (
	// StateVersion marks the multi-session schema.
	StateVersion = 2
	// StateFilename sits next to the config file.
	StateFilename = "telegram_chat_sessions_state.json"
	// MaxSessionsPerEngine caps per-chat history for one engine.
	MaxSessionsPerEngine = 20

	firstMessageLimit = 100
	titleLimit        = 50
)

var (
	// ErrNotFound means no stored session matches the given prefix.
	ErrNotFound = errors.New("session not found")
	// ErrAmbiguous means more than one stored session matches the prefix.
	ErrAmbiguous = errors.New("session prefix is ambiguous")
)

// SessionInfo is one stored session.
type SessionInfo struct {
	Resume       string  `json:"resume"`
	Engine       string  `json:"engine"`
	Title        string  `json:"title,omitempty"`
	FirstMessage string  `json:"first_message,omitempty"`
	CreatedAt    float64 `json:"created_at"`
	UpdatedAt    float64 `json:"updated_at"`
}

// Label returns the human-facing name for the session: explicit title,
// else the opening message, else the short resume id.
func (s SessionInfo) Label() string {
	if s.Title != "" {
		return s.Title
	}
	if s.FirstMessage != "" {
		return s.FirstMessage
	}
	return ShortID(s.Resume)
}

// ShortID returns the display form of a resume id.
func ShortID(resume string) string {
	if len(resume) > 8 {
		return resume[:8]
	}
	return resume
}

// ChatKey scopes store operations to one chat and an optional owner (a
// forum topic id under projects scope). A zero Owner means the whole chat.
type ChatKey struct {
	ChatID int64
	Owner  int64
}

func (k ChatKey) String() string {
	if k.Owner == 0 {
		return strconv.FormatInt(k.ChatID, 10) + ":chat"
	}
	return strconv.FormatInt(k.ChatID, 10) + ":" + strconv.FormatInt(k.Owner, 10)
}

type chatState struct {
	// History keys every known session by resume id.
	History map[string]*SessionInfo `json:"history"`
	// Active points at the current resume id per engine.
	Active map[string]string `json:"active"`
	// Sessions carries the pre-v2 single-session layout until migrated.
	Sessions map[string]map[string]any `json:"sessions,omitempty"`
}

type storeState struct {
	Version int                   `json:"version"`
	Cwd     string                `json:"cwd,omitempty"`
	Chats   map[string]*chatState `json:"chats"`
}

func newStoreState() *storeState {
	return &storeState{Version: StateVersion, Chats: map[string]*chatState{}}
}

// Store is the persistent session registry.
type Store struct {
	mu       sync.Mutex
	path     string
	state    *storeState
	loaded   bool
	loadedAt time.Time
	now      func() float64
}

// ResolvePath places the state file next to the config file.
func ResolvePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), StateFilename)
}

// New opens (or initializes) the store backed by path.
func New(path string) *Store {
	s := &Store{
		path:  path,
		state: newStoreState(),
		now:   unixNow,
	}
	s.mu.Lock()
	s.reloadIfChanged()
	s.mu.Unlock()
	return s
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// ActiveSession returns the resume token for the engine's active session,
// or nil when the chat has none.
func (s *Store) ActiveSession(key ChatKey, engine string) *events.ResumeToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	if chat == nil {
		return nil
	}
	resumeID := chat.Active[engine]
	if resumeID == "" {
		return nil
	}
	// A dangling active pointer counts as no session.
	if _, ok := chat.History[resumeID]; !ok {
		return nil
	}
	return &events.ResumeToken{Engine: engine, Value: resumeID}
}

// ActiveSessionID returns the active resume id for the engine, or "".
func (s *Store) ActiveSessionID(key ChatKey, engine string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	if chat == nil {
		return ""
	}
	return chat.Active[engine]
}

// SetSessionResume records token as the engine's active session, creating
// the history entry when new. firstMessage seeds the session label once.
func (s *Store) SetSessionResume(key ChatKey, token events.ResumeToken, firstMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	if s.state.Cwd == "" {
		if cwd, err := os.Getwd(); err == nil {
			s.state.Cwd = normalizePath(cwd)
		}
	}

	chat := s.ensureChat(key)
	now := s.now()

	if existing, ok := chat.History[token.Value]; ok {
		existing.UpdatedAt = now
		if firstMessage != "" && existing.FirstMessage == "" {
			existing.FirstMessage = truncateRunes(firstMessage, firstMessageLimit)
		}
	} else {
		chat.History[token.Value] = &SessionInfo{
			Resume:       token.Value,
			Engine:       token.Engine,
			FirstMessage: truncateRunes(firstMessage, firstMessageLimit),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	chat.Active[token.Engine] = token.Value
	pruneSessions(chat, token.Engine)
	return s.save()
}

// ClearSessions drops every active pointer for the chat; history stays.
func (s *Store) ClearSessions(key ChatKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	if chat == nil {
		return nil
	}
	chat.Active = map[string]string{}
	return s.save()
}

// NewSession drops the engine's active pointer so the next prompt starts a
// fresh session. History is untouched.
func (s *Store) NewSession(key ChatKey, engine string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	if chat == nil {
		return nil
	}
	if _, ok := chat.Active[engine]; !ok {
		return nil
	}
	delete(chat.Active, engine)
	return s.save()
}

// ListSessions returns the chat's sessions newest-first, optionally
// filtered by engine.
func (s *Store) ListSessions(key ChatKey, engine string) []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	if chat == nil {
		return nil
	}

	out := make([]SessionInfo, 0, len(chat.History))
	for _, info := range chat.History {
		if engine != "" && info.Engine != engine {
			continue
		}
		out = append(out, *info)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].Resume < out[j].Resume
	})
	return out
}

// SwitchSession activates the session whose resume id starts with prefix.
// The match must be unique across all engines in the chat.
func (s *Store) SwitchSession(key ChatKey, prefix string) (*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	info, err := matchPrefix(chat, prefix)
	if err != nil {
		return nil, err
	}

	chat.Active[info.Engine] = info.Resume
	info.UpdatedAt = s.now()
	if err := s.save(); err != nil {
		return nil, err
	}
	copied := *info
	return &copied, nil
}

// NameSession titles the engine's active session. It reports false when
// the chat has no active session to name.
func (s *Store) NameSession(key ChatKey, engine, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	if chat == nil {
		return false, nil
	}
	resumeID := chat.Active[engine]
	if resumeID == "" {
		return false, nil
	}
	info, ok := chat.History[resumeID]
	if !ok {
		return false, nil
	}
	info.Title = truncateRunes(title, titleLimit)
	if err := s.save(); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteSession removes the session whose resume id starts with prefix,
// clearing the engine's active pointer when it pointed there.
func (s *Store) DeleteSession(key ChatKey, prefix string) (*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	chat := s.state.Chats[key.String()]
	info, err := matchPrefix(chat, prefix)
	if err != nil {
		return nil, err
	}

	delete(chat.History, info.Resume)
	if chat.Active[info.Engine] == info.Resume {
		delete(chat.Active, info.Engine)
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	copied := *info
	return &copied, nil
}

// SyncStartupCwd pins the store to the working directory it serves. When
// the directory changed since the last run all chats are invalidated;
// the cleared return reports that.
func (s *Store) SyncStartupCwd(cwd string) (bool, error) {
	normalized := normalizePath(cwd)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	previous := s.state.Cwd
	cleared := false
	if previous != "" && previous != normalized {
		s.state.Chats = map[string]*chatState{}
		cleared = true
	}
	if previous != normalized {
		s.state.Cwd = normalized
		if err := s.save(); err != nil {
			return cleared, err
		}
	}
	return cleared, nil
}

func (s *Store) ensureChat(key ChatKey) *chatState {
	k := key.String()
	chat := s.state.Chats[k]
	if chat == nil {
		chat = &chatState{History: map[string]*SessionInfo{}, Active: map[string]string{}}
		s.state.Chats[k] = chat
	}
	return chat
}

// matchPrefix resolves a resume-id prefix across the whole chat history.
func matchPrefix(chat *chatState, prefix string) (*SessionInfo, error) {
	if chat == nil || prefix == "" {
		return nil, ErrNotFound
	}
	var found *SessionInfo
	for resumeID, info := range chat.History {
		if !strings.HasPrefix(resumeID, prefix) {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguous
		}
		found = info
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// pruneSessions drops the oldest entries for engine beyond the cap. The
// active session is never pruned.
func pruneSessions(chat *chatState, engine string) {
	type aged struct {
		resume  string
		updated float64
	}
	var entries []aged
	for resumeID, info := range chat.History {
		if info.Engine == engine {
			entries = append(entries, aged{resume: resumeID, updated: info.UpdatedAt})
		}
	}
	if len(entries) <= MaxSessionsPerEngine {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].updated != entries[j].updated {
			return entries[i].updated < entries[j].updated
		}
		return entries[i].resume < entries[j].resume
	})
	for _, entry := range entries[:len(entries)-MaxSessionsPerEngine] {
		if chat.Active[engine] == entry.resume {
			continue
		}
		delete(chat.History, entry.resume)
	}
}

// reloadIfChanged re-reads the backing file when its mtime moved since the
// last load. Call with the mutex held.
func (s *Store) reloadIfChanged() {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if s.loaded && info.ModTime().Equal(s.loadedAt) {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		slog.Warn("session state unreadable; starting fresh", "path", s.path, "error", err)
		s.state = newStoreState()
		s.loaded, s.loadedAt = true, info.ModTime()
		return
	}

	var st storeState
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("session state corrupt; starting fresh", "path", s.path, "error", err)
		s.state = newStoreState()
		s.loaded, s.loadedAt = true, info.ModTime()
		return
	}

	st.Version = StateVersion
	if st.Chats == nil {
		st.Chats = map[string]*chatState{}
	}
	for _, chat := range st.Chats {
		migrateChat(chat, s.now())
	}
	s.state = &st
	s.loaded, s.loadedAt = true, info.ModTime()
}

// migrateChat lifts a pre-v2 single-session chat into history + active.
// Migrated state is only written back on the next mutation.
func migrateChat(chat *chatState, now float64) {
	if chat.History == nil {
		chat.History = map[string]*SessionInfo{}
	}
	if chat.Active == nil {
		chat.Active = map[string]string{}
	}
	if chat.Sessions == nil {
		return
	}
	for engine, old := range chat.Sessions {
		resume, _ := old["resume"].(string)
		if resume == "" {
			continue
		}
		if _, ok := chat.History[resume]; ok {
			continue
		}
		chat.History[resume] = &SessionInfo{
			Resume:    resume,
			Engine:    engine,
			CreatedAt: now,
			UpdatedAt: now,
		}
		chat.Active[engine] = resume
	}
	chat.Sessions = nil
}

// save writes the state atomically: temp file in the same directory, fsync,
// rename. Call with the mutex held.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
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
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace session state: %w", err)
	}
	cleanup = false

	if info, err := os.Stat(s.path); err == nil {
		s.loaded, s.loadedAt = true, info.ModTime()
	}
	return nil
}

// normalizePath resolves symlinks when possible so cwd comparisons survive
// /tmp style indirection.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// truncateRunes keeps at most limit runes of text.
func truncateRunes(text string, limit int) string {
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
