// Package process tracks the background gateway: its PID file and the
// number of chat sessions relying on it.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	PIDFilename      = "toolgate.pid"
	SessionsFilename = "sessions.count"
)

type Manager struct {
	pidFile  string
	refFile  string
	mu       sync.RWMutex
	warnings func(format string, args ...any)
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		pidFile:  filepath.Join(baseDir, PIDFilename),
		refFile:  filepath.Join(baseDir, SessionsFilename),
		warnings: warnStderr,
	}
}

func warnStderr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

func (m *Manager) WritePID() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// ReadPID returns 0 when no valid PID file exists.
func (m *Manager) ReadPID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readInt(m.pidFile)
}

// IsRunning checks the recorded PID and removes a stale PID file.
func (m *Manager) IsRunning() bool {
	pid := m.ReadPID()
	if pid == 0 {
		return false
	}

	if err := syscall.Kill(pid, 0); err != nil {
		m.CleanupPID()
		return false
	}

	return true
}

func (m *Manager) Stop() error {
	pid := m.ReadPID()
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	// The gateway drains in-flight streams before exiting.
	deadline := time.Now().Add(45 * time.Second)
	for time.Now().Before(deadline) && m.IsRunning() {
		time.Sleep(100 * time.Millisecond)
	}

	m.CleanupPID()

	return nil
}

func (m *Manager) CleanupPID() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.pidFile); err != nil && !os.IsNotExist(err) {
		m.warnings("failed to remove PID file: %v", err)
	}
}

// IncrementRef registers a chat session using the background gateway.
func (m *Manager) IncrementRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeRefLocked(readInt(m.refFile) + 1)
}

// DecrementRef releases a session and reports how many remain.
func (m *Manager) DecrementRef() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := readInt(m.refFile)
	if count > 0 {
		count--
		m.writeRefLocked(count)
	}
	return count
}

func (m *Manager) ReadRef() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readInt(m.refFile)
}

func (m *Manager) writeRefLocked(count int) {
	if err := os.MkdirAll(filepath.Dir(m.refFile), 0750); err != nil {
		m.warnings("failed to create session directory: %v", err)
		return
	}
	if err := os.WriteFile(m.refFile, []byte(strconv.Itoa(count)), 0600); err != nil {
		m.warnings("failed to write session count: %v", err)
	}
}

func (m *Manager) CleanupRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.refFile); err != nil && !os.IsNotExist(err) {
		m.warnings("failed to remove session count: %v", err)
	}
}

// WaitForService polls ready until it succeeds or the timeout passes.
func (m *Manager) WaitForService(timeout time.Duration, ready func() bool) bool {
	expire := time.Now().Add(timeout)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(expire) {
		if ready() {
			return true
		}

		<-ticker.C
	}

	return false
}

// StartServiceIfNeeded launches "<self> start" in the background unless a
// gateway is already running. It reports whether this call started it.
func (m *Manager) StartServiceIfNeeded(ready func() bool) (bool, error) {
	if m.IsRunning() {
		return false, nil
	}

	cmd := exec.Command(os.Args[0], "start")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("failed to start service: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return false, fmt.Errorf("release service process: %w", err)
	}

	if !m.WaitForService(10*time.Second, ready) {
		return false, errors.New("service startup timeout")
	}

	return true, nil
}

func readInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return n
}
