package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/terminal"
)

type fakeSessions struct {
	mu         sync.Mutex
	sessions   map[string]terminal.SessionInfo
	input      map[string]string
	sizes      map[string][2]int
	scrollback map[string]string
	attached   []string
	detached   []string
	createErr  error
	creates    int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions:   map[string]terminal.SessionInfo{},
		input:      map[string]string{},
		sizes:      map[string][2]int{},
		scrollback: map[string]string{},
	}
}

func (f *fakeSessions) CreateSession(_ context.Context, req terminal.CreateRequest) (terminal.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.createErr != nil {
		return terminal.SessionInfo{}, f.createErr
	}
	if req.UserID == "" || req.ProjectID == "" {
		return terminal.SessionInfo{}, fmt.Errorf("%w: userId and projectId are required", terminal.ErrValidation)
	}
	if info, ok := f.sessions[req.UserID]; ok {
		return info, nil
	}
	info := terminal.SessionInfo{
		SessionID:        id.NewSessionID().String(),
		UserID:           req.UserID,
		ProjectID:        req.ProjectID,
		Username:         terminal.DeriveUsername(req.UserID, req.DisplayIdentity),
		Status:           terminal.StatusActive,
		WorkingDirectory: "/workspaces/" + req.ProjectID,
	}
	f.sessions[req.UserID] = info
	return info, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.sessions[userID]
	delete(f.sessions, userID)
	return ok
}

func (f *fakeSessions) WriteInput(userID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sessions[userID]; !ok {
		return fmt.Errorf("%w: %s", terminal.ErrNotFound, userID)
	}
	f.input[userID] += string(data)
	return nil
}

func (f *fakeSessions) Resize(userID string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cols < 1 || rows < 1 {
		return fmt.Errorf("%w: bad dimensions", terminal.ErrValidation)
	}
	if _, ok := f.sessions[userID]; !ok {
		return fmt.Errorf("%w: %s", terminal.ErrNotFound, userID)
	}
	f.sizes[userID] = [2]int{cols, rows}
	return nil
}

func (f *fakeSessions) Scrollback(userID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte(f.scrollback[userID]), nil
}

func (f *fakeSessions) Attach(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, userID)
}

func (f *fakeSessions) Detach(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, userID)
}

func (f *fakeSessions) Input(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input[userID]
}

func (f *fakeSessions) Size(userID string) [2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizes[userID]
}

func (f *fakeSessions) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeSessions) Attached() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attached...)
}

func (f *fakeSessions) Detached() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detached...)
}
