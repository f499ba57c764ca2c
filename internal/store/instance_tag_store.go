package store

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"sync"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

const (
	// InstanceTagFilename holds the per-account instance tags.
	InstanceTagFilename = "instance_tags.json"

	// Tags below this value are reserved.
	minInstanceTag = 0x100
)

type instanceTag struct {
	Account  string `json:"account"`
	Protocol string `json:"protocol"`
	Tag      uint32 `json:"tag"`
}

// InstanceTagFileStore allocates an instance tag per account on first use
// and keeps it stable across restarts.
type InstanceTagFileStore struct {
	file file

	mu   sync.Mutex
	tags map[types.AccountKey]uint32
}

// NewInstanceTagFileStore returns a store rooted at dir.
func NewInstanceTagFileStore(dir string) (*InstanceTagFileStore, error) {
	s := &InstanceTagFileStore{
		file: newFile(dir, InstanceTagFilename),
		tags: make(map[types.AccountKey]uint32),
	}
	b, err := s.file.read()
	if err != nil || b == nil {
		return s, err
	}
	var entries []instanceTag
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		s.tags[types.AccountKey{Account: e.Account, Protocol: e.Protocol}] = e.Tag
	}
	return s, nil
}

// InstanceTag returns the account's tag, allocating and saving one if needed.
func (s *InstanceTagFileStore) InstanceTag(account types.AccountKey) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tag, ok := s.tags[account]; ok {
		return tag, nil
	}
	tag, err := newInstanceTag()
	if err != nil {
		return 0, err
	}
	s.tags[account] = tag
	if err := s.saveLocked(); err != nil {
		delete(s.tags, account)
		return 0, err
	}
	return tag, nil
}

func (s *InstanceTagFileStore) saveLocked() error {
	entries := make([]instanceTag, 0, len(s.tags))
	for a, tag := range s.tags {
		entries = append(entries, instanceTag{Account: a.Account, Protocol: a.Protocol, Tag: tag})
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return s.file.replace(b)
}

func newInstanceTag() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if tag := binary.BigEndian.Uint32(b[:]); tag >= minInstanceTag {
			return tag, nil
		}
	}
}

var _ domain.InstanceTagStore = (*InstanceTagFileStore)(nil)
