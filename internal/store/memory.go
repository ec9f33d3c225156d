package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore はプロセス内で完結する VideoStore / AlertStore の実装です。
// テストと Redis を使わない CLI 実行で使用します。
type MemoryStore struct {
	mu     sync.Mutex
	videos map[string]Video
	alerts map[string]Alert
	seq    int64
	order  map[string]int64
	now    func() time.Time
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		videos: make(map[string]Video),
		alerts: make(map[string]Alert),
		order:  make(map[string]int64),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateVideo(_ context.Context, video *Video) error {
	if video == nil {
		return fmt.Errorf("video is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if video.ID == "" {
		video.ID = uuid.NewString()
	}
	if video.Status == "" {
		video.Status = StatusUploaded
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = now
	}
	video.UpdatedAt = now
	m.videos[video.ID] = *video
	m.touch(video.ID)
	return nil
}

func (m *MemoryStore) GetVideo(_ context.Context, id string) (*Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemoryStore) ListVideos(_ context.Context) ([]Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Video, 0, len(m.videos))
	for _, v := range m.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] > m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) SetVideoStatus(_ context.Context, id string, status VideoStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(v.Status, status); err != nil {
		return err
	}
	v.Status = status
	v.UpdatedAt = m.now()
	m.videos[id] = v
	return nil
}

func (m *MemoryStore) DeleteVideo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return ErrNotFound
	}
	delete(m.videos, id)
	delete(m.order, id)
	return nil
}

func (m *MemoryStore) CreateAlert(_ context.Context, input AlertInput) (*Alert, error) {
	in, err := input.Normalize()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	alert := newAlert(in, m.now())
	m.alerts[alert.ID] = *alert
	m.touch(alert.ID)
	return alert, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, activeOnly bool) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if activeOnly && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] > m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) ResolveAlert(_ context.Context, id string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Resolved = true
	a.UpdatedAt = m.now()
	m.alerts[id] = a
	return &a, nil
}

func (m *MemoryStore) DeleteAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	delete(m.order, id)
	return nil
}

func (m *MemoryStore) AlertSummary(_ context.Context) (AlertSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var summary AlertSummary
	for _, a := range m.alerts {
		summary.Total++
		if a.Resolved {
			summary.Resolved++
		} else {
			summary.Active++
		}
	}
	return summary, nil
}

// touch は挿入順を記録します。呼び出し側で mu を保持していること。
func (m *MemoryStore) touch(id string) {
	m.seq++
	m.order[id] = m.seq
}
