// Package messages is the MessageMetadataStore (spec §4.12): an
// ancillary store for the agent/messaging subsystem that shares the
// indexing engine's hashing infrastructure. It assigns dense, monotonic
// message IDs and interns entity names (tags, mentions, wikilinks,
// path-like tokens) referenced from message text, first-seen wins.
package messages

import (
	"regexp"
	"sync"
)

// EntityKind classifies which pattern extracted an entity from message
// text. The kind is not stored with an interned entity: entities are
// keyed by name alone, and GetByEntity has no kind filter.
type EntityKind string

const (
	EntityTag       EntityKind = "tag"       // #project
	EntityMention   EntityKind = "mention"   // @alice
	EntityWikilink  EntityKind = "wikilink"  // [[Some Note]]
	EntityPathLike  EntityKind = "path_like" // src/main.rs
)

var entityPatterns = []struct {
	kind EntityKind
	re   *regexp.Regexp
}{
	{EntityTag, regexp.MustCompile(`#[A-Za-z0-9_-]+`)},
	{EntityMention, regexp.MustCompile(`@[A-Za-z0-9_-]+`)},
	{EntityWikilink, regexp.MustCompile(`\[\[([^\]]+)\]\]`)},
	{EntityPathLike, regexp.MustCompile(`[^\s]+/[^\s]+\.[a-z0-9]+`)},
}

// ExtractEntities finds every entity token in text, per spec §4.12's
// four regex families. Names are grouped by family (tags, mentions,
// wikilinks, then path-like tokens), in text order within a family; a
// name already found is not repeated.
func ExtractEntities(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, p := range entityPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			name := m[0]
			if p.kind == EntityWikilink {
				name = m[1]
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// Metadata is one message's persisted record (spec §4.12). AccessCount
// is monotonic non-decreasing; IncrementAccessCount is the only mutator.
type Metadata struct {
	MessageID      uint64
	AgentID        string
	Timestamp      int64
	TokenCount     int
	EntityIDs      []uint64
	ReferenceCount int
	AccessCount    uint64
	ParentID       *uint64
}

// Store is the MessageMetadataStore. A single RWMutex guards both maps,
// per spec §5 ("writes are short; readers are many").
type Store struct {
	mu sync.RWMutex

	nextMessageID uint64
	messages      map[uint64]*Metadata

	nextEntityID uint64
	entityByName map[string]uint64
	entityByID   map[uint64]string
	byEntity     map[uint64]map[uint64]struct{} // entity_id -> set<message_id>
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		messages:     make(map[uint64]*Metadata),
		entityByName: make(map[string]uint64),
		entityByID:   make(map[uint64]string),
		byEntity:     make(map[uint64]map[uint64]struct{}),
	}
}

// GetOrCreateEntity interns name, returning its stable ID. First-seen
// wins: a name already known returns its existing ID, and IDs are
// never reused once assigned.
func (s *Store) GetOrCreateEntity(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateEntityLocked(name)
}

func (s *Store) getOrCreateEntityLocked(name string) uint64 {
	if id, ok := s.entityByName[name]; ok {
		return id
	}
	id := s.nextEntityID
	s.nextEntityID++
	s.entityByName[name] = id
	s.entityByID[id] = name
	return id
}

// Insert assigns the next dense message ID, stores meta, indexes it
// under each of meta.EntityIDs, and returns the assigned ID. Callers
// that already extracted entity names should populate meta.EntityIDs
// via GetOrCreateEntity beforehand; Insert trusts the IDs it is given
// and only maintains the reverse index.
func (s *Store) Insert(meta Metadata) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextMessageID
	s.nextMessageID++
	meta.MessageID = id
	s.messages[id] = &meta

	for _, entityID := range meta.EntityIDs {
		set, ok := s.byEntity[entityID]
		if !ok {
			set = make(map[uint64]struct{})
			s.byEntity[entityID] = set
		}
		set[id] = struct{}{}
	}
	return id
}

// InsertText is a convenience wrapper: extracts entities from text,
// interns them, and inserts meta with EntityIDs populated.
func (s *Store) InsertText(meta Metadata, text string) uint64 {
	names := ExtractEntities(text)

	s.mu.Lock()
	ids := make([]uint64, 0, len(names))
	for _, name := range names {
		ids = append(ids, s.getOrCreateEntityLocked(name))
	}
	meta.EntityIDs = ids
	meta.TokenCount = len(text) / 4
	id := s.nextMessageID
	s.nextMessageID++
	meta.MessageID = id
	s.messages[id] = &meta
	for _, entityID := range ids {
		set, ok := s.byEntity[entityID]
		if !ok {
			set = make(map[uint64]struct{})
			s.byEntity[entityID] = set
		}
		set[id] = struct{}{}
	}
	s.mu.Unlock()
	return id
}

// Get returns a copy of the stored metadata for messageID.
func (s *Store) Get(messageID uint64) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return Metadata{}, false
	}
	return *m, true
}

// IncrementAccessCount adds exactly 1 to messageID's AccessCount. No-op
// (returns false) if the message doesn't exist.
func (s *Store) IncrementAccessCount(messageID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false
	}
	m.AccessCount++
	return true
}

// GetByEntity returns every message ID that references entityID.
func (s *Store) GetByEntity(entityID uint64) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.byEntity[entityID]
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// EntityName returns the interned name for entityID, if known.
func (s *Store) EntityName(entityID uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.entityByID[entityID]
	return name, ok
}
