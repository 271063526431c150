package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aisu-os/core/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers           = []byte("users")
	bucketUsersByUsername = []byte("users_by_username")
	bucketUsersByEmail    = []byte("users_by_email")
	bucketContainers      = []byte("containers")
	bucketContainerEvents = []byte("container_events")
	bucketNodeMeta        = []byte("node_meta")
	bucketBetaRequests    = []byte("beta_requests")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "aisu.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketUsersByUsername,
			bucketUsersByEmail,
			bucketContainers,
			bucketContainerEvents,
			bucketNodeMeta,
			bucketBetaRequests,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Users ---

// CreateUser inserts a user and its username/email uniqueness indexes.
func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		byUsername := tx.Bucket(bucketUsersByUsername)
		byEmail := tx.Bucket(bucketUsersByEmail)

		if byUsername.Get([]byte(strings.ToLower(user.Username))) != nil {
			return fmt.Errorf("username already taken: %s", user.Username)
		}
		if byEmail.Get([]byte(strings.ToLower(user.Email))) != nil {
			return fmt.Errorf("email already registered: %s", user.Email)
		}

		user.CreatedAt = now()
		user.UpdatedAt = user.CreatedAt

		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put(user.ID[:], data); err != nil {
			return err
		}
		if err := byUsername.Put([]byte(strings.ToLower(user.Username)), user.ID[:]); err != nil {
			return err
		}
		return byEmail.Put([]byte(strings.ToLower(user.Email)), user.ID[:])
	})
}

func (s *BoltStore) GetUser(id uuid.UUID) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get(id[:])
		if data == nil {
			return &ErrNotFound{What: "user"}
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByUsername(username string) (*types.User, error) {
	return s.getUserByIndex(bucketUsersByUsername, strings.ToLower(username))
}

func (s *BoltStore) GetUserByEmail(email string) (*types.User, error) {
	return s.getUserByIndex(bucketUsersByEmail, strings.ToLower(email))
}

func (s *BoltStore) getUserByIndex(index []byte, key string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(index).Get([]byte(key))
		if id == nil {
			return &ErrNotFound{What: "user"}
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return &ErrNotFound{What: "user"}
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) UpdateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get(user.ID[:]) == nil {
			return &ErrNotFound{What: "user"}
		}
		user.UpdatedAt = now()
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put(user.ID[:], data)
	})
}

// --- Container records ---

func (s *BoltStore) GetContainer(userID uuid.UUID) (*types.ContainerRecord, error) {
	var rec types.ContainerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContainers).Get(userID[:])
		if data == nil {
			return &ErrNotFound{What: "container"}
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertContainer writes the record keyed by user id. One record per user;
// the container name inside it never changes once set.
func (s *BoltStore) UpsertContainer(rec *types.ContainerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		if existing := b.Get(rec.UserID[:]); existing == nil {
			rec.CreatedAt = now()
		}
		rec.UpdatedAt = now()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(rec.UserID[:], data)
	})
}

// --- Container events ---

// AppendContainerEvent appends to the per-user audit log. Keys are
// userID/seq so a cursor prefix scan replays a user's history in order.
func (s *BoltStore) AppendContainerEvent(event *types.ContainerEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainerEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		event.CreatedAt = now()

		key := eventKey(event.UserID, seq)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListContainerEvents(userID uuid.UUID, limit int) ([]*types.ContainerEvent, error) {
	var events []*types.ContainerEvent
	prefix := append(userID[:], '/')
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketContainerEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var event types.ContainerEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, &event)
			if limit > 0 && len(events) >= limit {
				return nil
			}
		}
		return nil
	})
	return events, err
}

func eventKey(userID uuid.UUID, seq uint64) []byte {
	key := make([]byte, 0, len(userID)+1+8)
	key = append(key, userID[:]...)
	key = append(key, '/')
	var seqb [8]byte
	binary.BigEndian.PutUint64(seqb[:], seq)
	return append(key, seqb[:]...)
}

// --- Node metadata ---

// metaKey builds the composite (user, path) key. The NUL separator sorts
// before '/' so prefix scans never bleed across users.
func metaKey(userID uuid.UUID, path string) []byte {
	key := make([]byte, 0, len(userID)+1+len(path))
	key = append(key, userID[:]...)
	key = append(key, 0)
	return append(key, path...)
}

func (s *BoltStore) FindNodeMeta(userID uuid.UUID, path string) (*types.NodeMetadata, error) {
	var meta *types.NodeMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodeMeta).Get(metaKey(userID, path))
		if data == nil {
			return &ErrNotFound{What: "node metadata"}
		}
		meta = &types.NodeMetadata{}
		return json.Unmarshal(data, meta)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *BoltStore) ListNodeMetaTrashed(userID uuid.UUID) ([]*types.NodeMetadata, error) {
	return s.listNodeMeta(userID, func(m *types.NodeMetadata) bool {
		return m.IsTrashed
	})
}

func (s *BoltStore) ListNodeMetaWithDesktopPos(userID uuid.UUID) ([]*types.NodeMetadata, error) {
	return s.listNodeMeta(userID, func(m *types.NodeMetadata) bool {
		return !m.IsTrashed && m.DesktopX != nil && m.DesktopY != nil
	})
}

func (s *BoltStore) listNodeMeta(userID uuid.UUID, keep func(*types.NodeMetadata) bool) ([]*types.NodeMetadata, error) {
	var metas []*types.NodeMetadata
	prefix := append(userID[:], 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNodeMeta).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var meta types.NodeMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			if keep(&meta) {
				metas = append(metas, &meta)
			}
		}
		return nil
	})
	return metas, err
}

// UpdateMeta runs fn against a transaction-scoped metadata view.
func (s *BoltStore) UpdateMeta(userID uuid.UUID, fn func(tx MetaTx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltMetaTx{bucket: tx.Bucket(bucketNodeMeta), userID: userID})
	})
}

type boltMetaTx struct {
	bucket *bolt.Bucket
	userID uuid.UUID
}

func (t *boltMetaTx) Find(path string) (*types.NodeMetadata, error) {
	data := t.bucket.Get(metaKey(t.userID, path))
	if data == nil {
		return nil, &ErrNotFound{What: "node metadata"}
	}
	var meta types.NodeMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (t *boltMetaTx) Upsert(meta *types.NodeMetadata) error {
	meta.UserID = t.userID
	key := metaKey(t.userID, meta.Path)
	if existing := t.bucket.Get(key); existing == nil {
		meta.CreatedAt = now()
	} else if meta.CreatedAt.IsZero() {
		var prev types.NodeMetadata
		if err := json.Unmarshal(existing, &prev); err == nil {
			meta.CreatedAt = prev.CreatedAt
		}
	}
	meta.UpdatedAt = now()
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return t.bucket.Put(key, data)
}

func (t *boltMetaTx) Delete(path string) error {
	return t.bucket.Delete(metaKey(t.userID, path))
}

// DeletePrefix removes metadata for every path that begins with prefix,
// compared as a plain string: "/dir/" selects the descendants of /dir, while
// "/dir" also matches /dir itself and siblings such as /dirty.
func (t *boltMetaTx) DeletePrefix(prefix string) error {
	keys, err := t.collectPrefix(prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := t.bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// RenamePrefix rewrites the path key and embedded path for every descendant
// of oldPrefix, plus oldPrefix itself if present.
func (t *boltMetaTx) RenamePrefix(oldPrefix, newPrefix string) error {
	if oldPrefix == newPrefix {
		return nil
	}

	type move struct {
		oldKey []byte
		meta   types.NodeMetadata
	}
	var moves []move

	collect := func(k, v []byte, path string) error {
		var meta types.NodeMetadata
		if err := json.Unmarshal(v, &meta); err != nil {
			return err
		}
		meta.Path = newPrefix + path[len(oldPrefix):]
		meta.Name = basename(meta.Path)
		oldKey := make([]byte, len(k))
		copy(oldKey, k)
		moves = append(moves, move{oldKey: oldKey, meta: meta})
		return nil
	}

	if v := t.bucket.Get(metaKey(t.userID, oldPrefix)); v != nil {
		if err := collect(metaKey(t.userID, oldPrefix), v, oldPrefix); err != nil {
			return err
		}
	}

	prefix := metaKey(t.userID, oldPrefix+"/")
	c := t.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		path := string(k[len(t.userID)+1:])
		if err := collect(k, v, path); err != nil {
			return err
		}
	}

	for _, m := range moves {
		if err := t.bucket.Delete(m.oldKey); err != nil {
			return err
		}
		m.meta.UpdatedAt = now()
		data, err := json.Marshal(&m.meta)
		if err != nil {
			return err
		}
		if err := t.bucket.Put(metaKey(t.userID, m.meta.Path), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltMetaTx) DeleteAllTrashed() (int, error) {
	var keys [][]byte
	prefix := append(t.userID[:], 0)
	c := t.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var meta types.NodeMetadata
		if err := json.Unmarshal(v, &meta); err != nil {
			return 0, err
		}
		if meta.IsTrashed {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
		}
	}
	for _, k := range keys {
		if err := t.bucket.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (t *boltMetaTx) collectPrefix(prefix string) ([][]byte, error) {
	var keys [][]byte
	seek := metaKey(t.userID, prefix)
	c := t.bucket.Cursor()
	for k, _ := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, _ = c.Next() {
		key := make([]byte, len(k))
		copy(key, k)
		keys = append(keys, key)
	}
	return keys, nil
}

func basename(path string) string {
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}

// --- Beta access requests ---

func (s *BoltStore) PutBetaRequest(req *types.BetaAccessRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBetaRequests)
		if req.CreatedAt.IsZero() {
			req.CreatedAt = now()
		}
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return b.Put([]byte(strings.ToLower(req.Email)), data)
	})
}

func (s *BoltStore) GetBetaRequest(email string) (*types.BetaAccessRequest, error) {
	var req types.BetaAccessRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBetaRequests).Get([]byte(strings.ToLower(email)))
		if data == nil {
			return &ErrNotFound{What: "beta request"}
		}
		return json.Unmarshal(data, &req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *BoltStore) FindBetaRequestByHash(hashedToken string) (*types.BetaAccessRequest, error) {
	var found *types.BetaAccessRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBetaRequests).ForEach(func(k, v []byte) error {
			var req types.BetaAccessRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			if req.HashedToken == hashedToken {
				found = &req
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &ErrNotFound{What: "beta request"}
	}
	return found, nil
}
