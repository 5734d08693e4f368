package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/utils"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (m *memCache) SetJSON(_ context.Context, key string, val any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	m.data[key] = b
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type fakeProfiles struct {
	rows  map[string]models.Profile
	reads int
}

func (f *fakeProfiles) GetByUserID(_ context.Context, userID string) (*models.Profile, error) {
	f.reads++
	p, ok := f.rows[userID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProfiles) Upsert(_ context.Context, p *models.Profile) error {
	f.rows[p.UserID] = *p
	return nil
}

type fakeSessions struct {
	err   error
	saved []models.InterviewSession
}

func (f *fakeSessions) Upsert(_ context.Context, s *models.InterviewSession) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, *s)
	return nil
}

func (f *fakeSessions) GetBySessionID(_ context.Context, id string) (*models.InterviewSession, error) {
	for _, s := range f.saved {
		if s.SessionID == id {
			return &s, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeSessions) ListByUser(_ context.Context, userID string, _ int64) ([]models.InterviewSession, error) {
	var out []models.InterviewSession
	for _, s := range f.saved {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeConvoRepo struct {
	rows    map[string][]models.ConversationLog
	nearest []models.ConversationLog
	err     error
}

func (f *fakeConvoRepo) ReplaceSession(_ context.Context, sessionID string, rows []models.ConversationLog) error {
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = map[string][]models.ConversationLog{}
	}
	f.rows[sessionID] = rows
	return nil
}

func (f *fakeConvoRepo) ListBySession(_ context.Context, _, sessionID string, _ int) ([]models.ConversationLog, error) {
	return f.rows[sessionID], nil
}

func (f *fakeConvoRepo) Nearest(context.Context, string, pgvector.Vector, int) ([]models.ConversationLog, error) {
	return f.nearest, nil
}

type fakeEmbedder struct {
	dims int
	err  error
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

var errDown = errors.New("down")
