package store

import (
	"time"

	"github.com/aisu-os/core/pkg/types"
	"github.com/google/uuid"
)

// Store is the narrow transactional interface the core is written against.
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id uuid.UUID) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	GetUserByEmail(email string) (*types.User, error)
	UpdateUser(user *types.User) error

	// Container records and events
	GetContainer(userID uuid.UUID) (*types.ContainerRecord, error)
	UpsertContainer(rec *types.ContainerRecord) error
	AppendContainerEvent(event *types.ContainerEvent) error
	ListContainerEvents(userID uuid.UUID, limit int) ([]*types.ContainerEvent, error)

	// Node metadata (reads outside a transaction)
	FindNodeMeta(userID uuid.UUID, path string) (*types.NodeMetadata, error)
	ListNodeMetaTrashed(userID uuid.UUID) ([]*types.NodeMetadata, error)
	ListNodeMetaWithDesktopPos(userID uuid.UUID) ([]*types.NodeMetadata, error)

	// UpdateMeta runs fn inside a single write transaction; either all of a
	// handler's metadata writes commit or none do.
	UpdateMeta(userID uuid.UUID, fn func(tx MetaTx) error) error

	// Beta access requests
	PutBetaRequest(req *types.BetaAccessRequest) error
	GetBetaRequest(email string) (*types.BetaAccessRequest, error)
	FindBetaRequestByHash(hashedToken string) (*types.BetaAccessRequest, error)

	Close() error
}

// MetaTx is the metadata view inside one write transaction.
type MetaTx interface {
	Find(path string) (*types.NodeMetadata, error)
	Upsert(meta *types.NodeMetadata) error
	Delete(path string) error
	DeletePrefix(prefix string) error
	RenamePrefix(oldPrefix, newPrefix string) error
	DeleteAllTrashed() (int, error)
}

// ErrNotFound is returned for missing records.
type ErrNotFound struct {
	What string
}

func (e *ErrNotFound) Error() string {
	return e.What + " not found"
}

// IsNotFound reports whether err is a store not-found error.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

func now() time.Time {
	return time.Now().UTC()
}
