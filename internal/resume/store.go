// Package resume persists per-file chunk retry state so an upload can be
// resumed across process restarts.
//
// State is persisted as one JSON blob per file on every Save (into a bbolt
// bucket via db.Batch with the bbolt backend) and read back per file, on
// demand, by Load/LoadOrCreate; nothing is restored eagerly at startup.
// ResumeStore generalizes that pattern behind a pluggable KVStore
// (get/set/remove/keys/clear) so bbolt is one backend among others, with an
// in-memory fallback for tests and for hosts that don't want on-disk
// persistence.
package resume

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/chunkwise/uploadengine/pkg/errors"
)

// DefaultExpiration is how long a persisted RetryState remains valid before
// cleanupExpired (or a load past expiry) discards it.
const DefaultExpiration = 7 * 24 * time.Hour

// DefaultKeyPrefix namespaces ResumeStore keys within a shared KVStore.
const DefaultKeyPrefix = "retry_"

const activeUploadsKey = "active_uploads"

// KVStore is the pluggable persistence backend ResumeStore builds on.
type KVStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
	Keys() ([]string, error)
	Clear() error
}

// NetworkSample is one entry in RetryState's bounded network-quality
// history.
type NetworkSample struct {
	Timestamp time.Time
	Online    bool
	SpeedMbps float64
	RTTMillis int64
}

// RetryAttempt is one entry in RetryState's bounded retry history.
type RetryAttempt struct {
	Timestamp time.Time
	ChunkIndex int
	Success    bool
}

const (
	maxNetworkHistory = 20
	maxRetryHistory   = 50
)

// RetryState is the persisted per-file retry/progress record.
type RetryState struct {
	FileID          string
	DeviceID        string
	SessionID       string
	RetryCount      int
	LastRetryTime   time.Time
	ChunkRetries    map[int]int
	SuccessfulRetries int
	FailedRetries     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
	NetworkHistory  []NetworkSample
	RetryHistory    []RetryAttempt

	// UploadedChunks is the resume checkpoint: the set of chunk indices
	// already confirmed uploaded, letting a new Coordinator skip them on
	// resume. Kept as an explicit index set rather than a byte offset so
	// re-planning with the same chunk size can cross-check exactly which
	// indices to skip.
	UploadedChunks map[int]bool
}

// Checkpoint is a host-facing snapshot of upload progress: the number of
// uploaded chunks plus an estimate of the bytes they hold, a shape a host
// can persist or display without depending on RetryState's bbolt-backed
// internals.
type Checkpoint struct {
	FileID         string
	ChunksUploaded int
	BytesUploaded  int64
	UpdatedAt      time.Time
}

// Checkpoint derives a Checkpoint view from persisted state. bytesPerChunk
// is the chunk size the file was planned with, used to estimate
// BytesUploaded from the uploaded chunk count.
func (s *RetryState) Checkpoint(bytesPerChunk int64) Checkpoint {
	return Checkpoint{
		FileID:         s.FileID,
		ChunksUploaded: len(s.UploadedChunks),
		BytesUploaded:  int64(len(s.UploadedChunks)) * bytesPerChunk,
		UpdatedAt:      s.UpdatedAt,
	}
}

func newRetryState(fileID, deviceID, sessionID string) *RetryState {
	now := time.Now()
	return &RetryState{
		FileID:         fileID,
		DeviceID:       deviceID,
		SessionID:      sessionID,
		ChunkRetries:   make(map[int]int),
		UploadedChunks: make(map[int]bool),
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(DefaultExpiration),
	}
}

// AppendNetworkSample records a network-quality observation, evicting the
// oldest when the bounded history is full.
func (s *RetryState) AppendNetworkSample(sample NetworkSample) {
	s.NetworkHistory = append(s.NetworkHistory, sample)
	if len(s.NetworkHistory) > maxNetworkHistory {
		s.NetworkHistory = s.NetworkHistory[len(s.NetworkHistory)-maxNetworkHistory:]
	}
}

// AppendRetryAttempt records a retry attempt, evicting the oldest when full.
func (s *RetryState) AppendRetryAttempt(attempt RetryAttempt) {
	s.RetryHistory = append(s.RetryHistory, attempt)
	if len(s.RetryHistory) > maxRetryHistory {
		s.RetryHistory = s.RetryHistory[len(s.RetryHistory)-maxRetryHistory:]
	}
}

// Store persists RetryState keyed by fileId under a prefixed namespace,
// maintaining an "active uploads" index alongside saves/deletes.
type Store struct {
	mu        sync.Mutex
	kv        KVStore
	prefix    string
	deviceID  string
	sessionID string
}

// New creates a Store backed by kv. deviceID should be a stable fingerprint
// derived from host signals; sessionID identifies this process instance.
func New(kv KVStore, deviceID, sessionID string) *Store {
	return &Store{kv: kv, prefix: DefaultKeyPrefix, deviceID: deviceID, sessionID: sessionID}
}

func (s *Store) key(fileID string) string {
	return s.prefix + fileID
}

// Save persists state, stamping UpdatedAt and adding fileID to the
// active-uploads index. ExpiresAt is set only when it is zero: an existing
// expiry is kept as it is, not extended by the save.
func (s *Store) Save(state *RetryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	state.UpdatedAt = now
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = now.Add(DefaultExpiration)
	}
	state.DeviceID = s.deviceID
	state.SessionID = s.sessionID

	data, err := json.Marshal(state)
	if err != nil {
		return errors.NewStorageError("marshal retry state", err)
	}
	if err := s.kv.Set(s.key(state.FileID), data); err != nil {
		return errors.NewStorageError("persist retry state", err)
	}
	return s.addActiveLocked(state.FileID)
}

// Load returns the persisted RetryState for fileID, or (nil, false, nil) if
// absent. An expired entry is deleted and returned as absent.
func (s *Store) Load(fileID string) (*RetryState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(s.key(fileID))
	if err != nil {
		return nil, false, errors.NewStorageError("load retry state", err)
	}
	if !ok {
		return nil, false, nil
	}

	var state RetryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, errors.NewStorageError("unmarshal retry state", err)
	}

	if time.Now().After(state.ExpiresAt) {
		_ = s.kv.Remove(s.key(fileID))
		_ = s.removeActiveLocked(fileID)
		return nil, false, nil
	}

	return &state, true, nil
}

// LoadOrCreate returns the persisted state for fileID, creating a fresh one
// (stamped with this Store's device/session IDs) if none is persisted or the
// persisted one expired.
func (s *Store) LoadOrCreate(fileID string) (*RetryState, error) {
	state, ok, err := s.Load(fileID)
	if err != nil {
		return nil, err
	}
	if ok {
		return state, nil
	}
	return newRetryState(fileID, s.deviceID, s.sessionID), nil
}

// Delete removes fileID's persisted state and active-uploads entry.
func (s *Store) Delete(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(s.key(fileID)); err != nil {
		return errors.NewStorageError("delete retry state", err)
	}
	return s.removeActiveLocked(fileID)
}

// ListActive returns the file IDs currently recorded as active uploads.
func (s *Store) ListActive() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listActiveLocked()
}

// CleanupExpired deletes every persisted RetryState whose ExpiresAt has
// passed, garbage-collecting the active-uploads index to match.
func (s *Store) CleanupExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.listActiveLocked()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, fileID := range active {
		data, ok, err := s.kv.Get(s.key(fileID))
		if err != nil {
			return removed, errors.NewStorageError("cleanup: load retry state", err)
		}
		if !ok {
			_ = s.removeActiveLocked(fileID)
			continue
		}
		var state RetryState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if time.Now().After(state.ExpiresAt) {
			_ = s.kv.Remove(s.key(fileID))
			_ = s.removeActiveLocked(fileID)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) listActiveLocked() ([]string, error) {
	data, ok, err := s.kv.Get(s.prefix + activeUploadsKey)
	if err != nil {
		return nil, errors.NewStorageError("list active uploads", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, errors.NewStorageError("unmarshal active uploads index", err)
	}
	return ids, nil
}

func (s *Store) addActiveLocked(fileID string) error {
	ids, err := s.listActiveLocked()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == fileID {
			return nil
		}
	}
	ids = append(ids, fileID)
	sort.Strings(ids)
	return s.writeActiveLocked(ids)
}

func (s *Store) removeActiveLocked(fileID string) error {
	ids, err := s.listActiveLocked()
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, id := range ids {
		if id != fileID {
			out = append(out, id)
		}
	}
	return s.writeActiveLocked(out)
}

func (s *Store) writeActiveLocked(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return errors.NewStorageError("marshal active uploads index", err)
	}
	if err := s.kv.Set(s.prefix+activeUploadsKey, data); err != nil {
		return errors.NewStorageError("persist active uploads index", err)
	}
	return nil
}
