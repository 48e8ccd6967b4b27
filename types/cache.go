package types

import (
	"context"
	"time"
)

// KeyDelimiter separates the namespace from the caller-supplied key in the
// physical store key. Caller keys must not contain it.
const KeyDelimiter = ":"

// Namespaces owned by the cache tier. The janitor sweeps exactly this set.
const (
	NamespaceSession          = "session"
	NamespaceHostStatus       = "host"
	NamespaceDockerContainers = "docker-containers"
	NamespaceDockerStacks     = "docker-stacks"
	NamespaceCommand          = "command"
)

func Namespaces() []string {
	return []string{
		NamespaceSession,
		NamespaceHostStatus,
		NamespaceDockerContainers,
		NamespaceDockerStacks,
		NamespaceCommand,
	}
}

// SessionData is the authenticated session payload cached per token.
type SessionData struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HostStatus is a point-in-time snapshot of a managed remote host.
type HostStatus struct {
	HostID        string    `json:"host_id"`
	Online        bool      `json:"online"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CheckedAt     time.Time `json:"checked_at"`
}

type DockerContainer struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Image  string   `json:"image"`
	State  string   `json:"state"`
	Status string   `json:"status"`
	Ports  []string `json:"ports,omitempty"`
}

type DockerStack struct {
	Name     string `json:"name"`
	Services int    `json:"services"`
	Status   string `json:"status"`
}

// CommandEntry is one item of a user's per-host command history list.
type CommandEntry struct {
	Command string    `json:"command"`
	RanAt   time.Time `json:"ran_at"`
}

// CacheFacade is the typed surface consumed by the dashboard's routes and
// services. Session operations propagate classified errors; host status and
// docker listings soft-fail to nil during store outages.
type CacheFacade interface {
	CacheSession(ctx context.Context, token string, data *SessionData) error
	GetSession(ctx context.Context, token string) (*SessionData, error)
	InvalidateSession(ctx context.Context, token string) error

	CacheHostStatus(ctx context.Context, hostID string, status *HostStatus) error
	GetHostStatus(ctx context.Context, hostID string) (*HostStatus, error)
	InvalidateHostStatus(ctx context.Context, hostID string) error

	CacheDockerContainers(ctx context.Context, hostID string, containers []DockerContainer) error
	GetDockerContainers(ctx context.Context, hostID string) ([]DockerContainer, error)
	CacheDockerStacks(ctx context.Context, hostID string, stacks []DockerStack) error
	GetDockerStacks(ctx context.Context, hostID string) ([]DockerStack, error)
	InvalidateDockerCache(ctx context.Context, hostID string) error

	CacheCommand(ctx context.Context, userID, hostID string, commands ...CommandEntry) error
	GetCommands(ctx context.Context, userID, hostID string) ([]CommandEntry, error)
}
