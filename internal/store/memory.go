package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs dev mode (no REDIS_URL) and tests.
// All methods are safe for concurrent use; a single mutex is the row-level
// lock equivalent that serializes racing writers.
type Memory struct {
	mu sync.Mutex

	focus    map[string]*FocusRecord   // user → record
	settings map[string]*FocusSettings // user → settings
	tokens   map[tokenKey]*OAuthToken
	keys     map[string]*EncryptionKey    // id → key
	webhooks map[string]*WebhookSubscription // id → sub
	jobs     map[string]*DeferredJob
	kv       map[string]kvEntry

	// now is injectable for TTL tests.
	now func() time.Time
}

type tokenKey struct {
	user, provider, label string
}

type kvEntry struct {
	val     string
	expires time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		focus:    make(map[string]*FocusRecord),
		settings: make(map[string]*FocusSettings),
		tokens:   make(map[tokenKey]*OAuthToken),
		keys:     make(map[string]*EncryptionKey),
		webhooks: make(map[string]*WebhookSubscription),
		jobs:     make(map[string]*DeferredJob),
		kv:       make(map[string]kvEntry),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock used for key-value TTLs. Tests only.
func (m *Memory) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// --- Focus records ---

func (m *Memory) FocusRecord(_ context.Context, userID string) (*FocusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.focus[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) PutFocusRecord(_ context.Context, rec *FocusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.focus[rec.UserID] = &cp
	return nil
}

func (m *Memory) ExpiredFocusRecords(_ context.Context, now time.Time) ([]*FocusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FocusRecord
	for _, rec := range m.focus {
		if rec.State.Active() && rec.EndsAt != nil && !rec.EndsAt.After(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- Focus settings ---

func (m *Memory) FocusSettings(_ context.Context, userID string) (*FocusSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) PutFocusSettings(_ context.Context, s *FocusSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings[s.UserID] = &cp
	return nil
}

// --- OAuth tokens ---

func (m *Memory) OAuthToken(_ context.Context, userID, provider, label string) (*OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenKey{userID, provider, label}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *Memory) PutOAuthToken(_ context.Context, tok *OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[tokenKey{tok.UserID, tok.Provider, tok.AccountLabel}] = &cp
	return nil
}

func (m *Memory) DeleteOAuthToken(_ context.Context, userID, provider, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tokenKey{userID, provider, label}
	if _, ok := m.tokens[k]; !ok {
		return ErrNotFound
	}
	delete(m.tokens, k)
	return nil
}

func (m *Memory) OAuthTokensByUser(_ context.Context, userID string) ([]*OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*OAuthToken
	for k, tok := range m.tokens {
		if k.user == userID {
			cp := *tok
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].AccountLabel < out[j].AccountLabel
	})
	return out, nil
}

// --- Encryption keys ---

func (m *Memory) EncryptionKey(_ context.Context, id string) (*EncryptionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *Memory) EncryptionKeyByName(_ context.Context, keyName string) (*EncryptionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyName == keyName && k.IsActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateEncryptionKey(_ context.Context, key *EncryptionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; ok {
		return ErrConflict
	}
	if key.IsActive {
		for _, k := range m.keys {
			if k.KeyName == key.KeyName && k.IsActive {
				return ErrConflict
			}
		}
	}
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

// --- Webhook subscriptions ---

func (m *Memory) WebhookSubscriptions(_ context.Context, userID string) ([]*WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*WebhookSubscription
	for _, sub := range m.webhooks {
		if sub.UserID == userID {
			cp := *sub
			cp.EventTypes = append([]string(nil), sub.EventTypes...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutWebhookSubscription(_ context.Context, sub *WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	cp.EventTypes = append([]string(nil), sub.EventTypes...)
	m.webhooks[sub.ID] = &cp
	return nil
}

func (m *Memory) DeleteWebhookSubscription(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.webhooks[id]
	if !ok || sub.UserID != userID {
		return ErrNotFound
	}
	delete(m.webhooks, id)
	return nil
}

// --- Deferred jobs ---

func (m *Memory) CreateJob(_ context.Context, job *DeferredJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrConflict
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *Memory) DueJobs(_ context.Context, now time.Time) ([]*DeferredJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DeferredJob
	for _, job := range m.jobs {
		if !job.FireAt.After(now) {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

// --- Key-value with TTL ---

func (m *Memory) SetNX(_ context.Context, key, val string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ent, ok := m.kv[key]; ok && !m.expiredLocked(ent) {
		return false, nil
	}
	m.kv[key] = m.entryLocked(val, ttl)
	return true, nil
}

func (m *Memory) Set(_ context.Context, key, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = m.entryLocked(val, ttl)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.kv[key]
	if !ok || m.expiredLocked(ent) {
		delete(m.kv, key)
		return "", ErrNotFound
	}
	return ent.val, nil
}

func (m *Memory) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.kv[key]
	delete(m.kv, key)
	if !ok || m.expiredLocked(ent) {
		return "", ErrNotFound
	}
	return ent.val, nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *Memory) entryLocked(val string, ttl time.Duration) kvEntry {
	ent := kvEntry{val: val}
	if ttl > 0 {
		ent.expires = m.now().Add(ttl)
	}
	return ent
}

func (m *Memory) expiredLocked(ent kvEntry) bool {
	return !ent.expires.IsZero() && !ent.expires.After(m.now())
}
