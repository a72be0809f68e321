package channel

import (
	"context"
	"sync"
)

// Memory is an in-process channel
type Memory struct {
	mu     sync.Mutex
	img    Image
	loaded bool
	loads  int
	clears int
}

// NewMemory creates an empty channel
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context, img Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.img = img
	m.loaded = true
	m.loads++
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.img = Image{}
	m.loaded = false
	m.clears++
	return nil
}

// Current returns the loaded image
func (m *Memory) Current() (Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.img, m.loaded
}

// Loads counts Load calls
func (m *Memory) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// Clears counts Clear calls
func (m *Memory) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}
