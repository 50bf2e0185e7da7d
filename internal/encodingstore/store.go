// Package encodingstore persists one EncodingSet per (student, group) key.
//
// Every read goes to the backing storage; nothing is cached in process.
package encodingstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/example/face-attendance/internal/face"
)

// ErrExists is returned by Create when the key already holds an EncodingSet.
var ErrExists = errors.New("encoding set already exists")

// ErrCorrupt is returned when a stored artifact cannot be decoded or belongs to another key.
var ErrCorrupt = errors.New("corrupt encoding artifact")

// Store is the persistence contract for encoding sets.
type Store interface {
	// Save writes the set under key, replacing any previous content.
	Save(ctx context.Context, key face.EncodingKey, set face.EncodingSet) error
	// Create writes the set only if key is still empty, otherwise it returns ErrExists.
	Create(ctx context.Context, key face.EncodingKey, set face.EncodingSet) error
	// Load returns the stored set, or an empty set and nil error if key was never written.
	Load(ctx context.Context, key face.EncodingKey) (face.EncodingSet, error)
	Exists(ctx context.Context, key face.EncodingKey) (bool, error)
	// Delete removes the set. Deleting an absent key is not an error.
	Delete(ctx context.Context, key face.EncodingKey) error
	// List enumerates every stored key.
	List(ctx context.Context) ([]Object, error)
}

// ExclusiveCreator is implemented by stores whose Create can succeed for at
// most one writer of a key.
type ExclusiveCreator interface {
	ExclusiveCreate() bool
}

// CreateIsExclusive reports whether a successful Create on store proves the
// caller wrote the set now stored under the key.
func CreateIsExclusive(store Store) bool {
	ec, ok := store.(ExclusiveCreator)
	return ok && ec.ExclusiveCreate()
}

// Object describes one stored artifact.
type Object struct {
	Key      face.EncodingKey
	Modified time.Time
}

const recordVersion = 1

type record struct {
	Version     int               `json:"version"`
	StudentID   string            `json:"student_id"`
	GroupID     uint              `json:"group_id"`
	Dim         int               `json:"dim"`
	Descriptors []face.Descriptor `json:"descriptors"`
	SavedAt     time.Time         `json:"saved_at"`
}

func encode(key face.EncodingKey, set face.EncodingSet) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(record{
		Version:     recordVersion,
		StudentID:   key.StudentID,
		GroupID:     key.GroupID,
		Dim:         len(set[0]),
		Descriptors: set,
		SavedAt:     time.Now().UTC(),
	})
}

func decode(key face.EncodingKey, data []byte) (face.EncodingSet, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if rec.StudentID != key.StudentID || rec.GroupID != key.GroupID {
		return nil, fmt.Errorf("%w: artifact for %s@%d stored under %s", ErrCorrupt, rec.StudentID, rec.GroupID, key)
	}
	set := face.EncodingSet(rec.Descriptors)
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return set, nil
}

// ObjectName maps a key to its artifact path, "<group_id>/<base64url(student_id)>.json".
// Student ids are free text, so they are encoded to keep the mapping bijective.
func ObjectName(key face.EncodingKey) string {
	return path.Join(strconv.FormatUint(uint64(key.GroupID), 10), base64.RawURLEncoding.EncodeToString([]byte(key.StudentID))+".json")
}

// ParseObjectName is the inverse of ObjectName.
func ParseObjectName(name string) (face.EncodingKey, error) {
	dir, file := path.Split(strings.TrimPrefix(name, "/"))
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || !strings.HasSuffix(file, ".json") {
		return face.EncodingKey{}, fmt.Errorf("%w: unexpected object name %q", face.ErrInvalidKey, name)
	}
	group, err := strconv.ParseUint(dir, 10, 64)
	if err != nil {
		return face.EncodingKey{}, fmt.Errorf("%w: group in %q: %v", face.ErrInvalidKey, name, err)
	}
	student, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(file, ".json"))
	if err != nil {
		return face.EncodingKey{}, fmt.Errorf("%w: student in %q: %v", face.ErrInvalidKey, name, err)
	}
	key := face.EncodingKey{StudentID: string(student), GroupID: uint(group)}
	return key, key.Validate()
}
