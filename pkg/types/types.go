package types

import (
	"time"

	"github.com/google/uuid"
)

// User is the external identity a container and filesystem belong to.
type User struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	HashedPassword string    `json:"-"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	Role           string    `json:"role"`
	IsActive       bool      `json:"is_active"`
	CPU            int       `json:"cpu"`
	DiskMB         int       `json:"disk"`
	Wallpaper      string    `json:"wallpaper,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ContainerStatus represents the persisted state of a user's container
type ContainerStatus string

const (
	ContainerStatusCreating ContainerStatus = "creating"
	ContainerStatusRunning  ContainerStatus = "running"
	ContainerStatusStopped  ContainerStatus = "stopped"
	ContainerStatusError    ContainerStatus = "error"
	ContainerStatusRemoved  ContainerStatus = "removed"
)

// ContainerRecord is the one-to-one persisted record of a user's container.
// ContainerName is derived deterministically from the user id and never
// changes once provisioning begins.
type ContainerRecord struct {
	UserID        uuid.UUID       `json:"user_id"`
	ContainerID   string          `json:"container_id,omitempty"`
	ContainerName string          `json:"container_name"`
	ContainerIP   string          `json:"container_ip,omitempty"`
	Status        ContainerStatus `json:"status"`
	CPULimit      int             `json:"cpu_limit"`
	RAMLimit      int64           `json:"ram_limit"`
	DiskLimit     int64           `json:"disk_limit"`
	NetworkRate   string          `json:"network_rate"`
	LastActivity  *time.Time      `json:"last_activity,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ContainerEventType classifies lifecycle events
type ContainerEventType string

const (
	EventCreating ContainerEventType = "creating"
	EventCreated  ContainerEventType = "created"
	EventStarted  ContainerEventType = "started"
	EventStopped  ContainerEventType = "stopped"
	EventError    ContainerEventType = "error"
)

// ContainerEvent is an append-only audit record. Purely observational; no
// reads drive control flow.
type ContainerEvent struct {
	ID        uuid.UUID              `json:"id"`
	UserID    uuid.UUID              `json:"user_id"`
	EventType ContainerEventType     `json:"event_type"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NodeType distinguishes files from directories
type NodeType string

const (
	NodeTypeFile      NodeType = "file"
	NodeTypeDirectory NodeType = "directory"
)

// NodeMetadata is the out-of-container annotation for a filesystem node.
// (UserID, Path) is unique. Content lives in the container; this record
// carries only what must survive it: desktop position and trash provenance.
type NodeMetadata struct {
	UserID       uuid.UUID  `json:"user_id"`
	Path         string     `json:"path"`
	Name         string     `json:"name"`
	NodeType     NodeType   `json:"node_type"`
	MimeType     string     `json:"mime_type,omitempty"`
	Size         int64      `json:"size"`
	IsTrashed    bool       `json:"is_trashed"`
	OriginalPath string     `json:"original_path,omitempty"`
	TrashedAt    *time.Time `json:"trashed_at,omitempty"`
	DesktopX     *int       `json:"desktop_x,omitempty"`
	DesktopY     *int       `json:"desktop_y,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BetaAccessRequest is the single-use invite token flow's state.
type BetaAccessRequest struct {
	Email       string     `json:"email"`
	HashedToken string     `json:"hashed_token"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ContainerSpec enumerates everything the runtime needs to create a
// container. The adapter is the only component that reads it.
type ContainerSpec struct {
	Image       string
	Name        string
	Hostname    string
	Network     string
	Binds       map[string]string // host path -> container path
	CPUQuota    int64             // microseconds per period
	CPUPeriod   int64             // microseconds
	MemoryBytes int64
	PidsLimit   int64
	Env         map[string]string
	Labels      map[string]string
	Runtime     string // optional alternate OCI runtime name
}

// ContainerName derives the deterministic engine name for a user's container.
func ContainerName(userID uuid.UUID) string {
	return "aisu_" + userID.String()
}

// ContainerHostname derives the in-container hostname for a user.
func ContainerHostname(userID uuid.UUID) string {
	return "aisu-" + userID.String()[:8]
}

// nodeIDNamespace anchors the UUIDv5 derivation of node identifiers.
var nodeIDNamespace = uuid.MustParse("9f2c1b6e-4a3d-4f8b-9c7e-2d5a8e1f0b63")

// NodeID derives the stable node identifier for (user, path). Identity is a
// pure function of the pair: it survives restarts and changes with the path.
func NodeID(userID uuid.UUID, path string) uuid.UUID {
	return uuid.NewSHA1(nodeIDNamespace, []byte(userID.String()+":"+path))
}
