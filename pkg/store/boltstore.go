package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/vaultdex/pkg/hashutil"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketFiles      = []byte("files")
	bucketNotes      = []byte("notes")
	bucketBlocks     = []byte("blocks")
	bucketBlockRefs  = []byte("block_refs")
	bucketEmbeddings = []byte("embeddings")
	bucketRelations  = []byte("relations")
	bucketTags       = []byte("tags")
	bucketWikilinks  = []byte("wikilinks")
)

// BoltStore implements Store using BoltDB, following the teacher's
// per-bucket CRUD idiom: one bucket per entity, JSON-marshaled values,
// db.Update/db.View transaction wrapping.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the vaultdex database under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vaultdex.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketFiles, bucketNotes, bucketBlocks, bucketBlockRefs,
			bucketEmbeddings, bucketRelations, bucketTags, bucketWikilinks,
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

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- files ---

func (s *BoltStore) GetFile(path string) (FileRecord, bool, error) {
	var rec FileRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(path))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *BoltStore) putFile(tx *bolt.Tx, path string, rec FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketFiles).Put([]byte(path), data)
}

func (s *BoltStore) DeleteFile(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete([]byte(path))
	})
}

// --- notes ---

func (s *BoltStore) GetNote(path string) (NoteRecord, bool, error) {
	var rec NoteRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNotes).Get([]byte(path))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *BoltStore) ListNotes() ([]NoteRecord, error) {
	var notes []NoteRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotes).ForEach(func(k, v []byte) error {
			var rec NoteRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			notes = append(notes, rec)
			return nil
		})
	})
	return notes, err
}

func (s *BoltStore) putNote(tx *bolt.Tx, rec NoteRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketNotes).Put([]byte(rec.Path), data)
}

func (s *BoltStore) DeleteNote(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotes).Delete([]byte(path))
	})
}

// --- blocks (content-addressed) ---

func (s *BoltStore) GetBlock(hash hashutil.Hash) (BlockRecord, bool, error) {
	var rec BlockRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(hash.Bytes())
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *BoltStore) ExistsBlock(hash hashutil.Hash) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketBlocks).Get(hash.Bytes()) != nil
		return nil
	})
	return exists, err
}

func (s *BoltStore) PutBlock(rec BlockRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putBlock(tx, rec)
	})
}

func (s *BoltStore) putBlock(tx *bolt.Tx, rec BlockRecord) error {
	b := tx.Bucket(bucketBlocks)
	if b.Get(rec.Hash.Bytes()) != nil {
		return nil // put is idempotent (spec §4.2)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(rec.Hash.Bytes(), data)
}

func (s *BoltStore) DeleteBlock(hash hashutil.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Delete(hash.Bytes())
	})
}

func (s *BoltStore) ListAllBlocks() ([]BlockRecord, error) {
	var recs []BlockRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, v []byte) error {
			var rec BlockRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

// --- block reverse index: hash -> set<(path, position)> ---

func blockRefKey(hash hashutil.Hash, ref BlockRef) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", hash.String(), ref.Path, ref.Position))
}

func (s *BoltStore) ListBlockRefs(hash hashutil.Hash) ([]BlockRef, error) {
	prefix := []byte(hash.String() + ":")
	var refs []BlockRef
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlockRefs).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var ref BlockRef
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		return nil
	})
	return refs, err
}

func (s *BoltStore) AddBlockRef(hash hashutil.Hash, ref BlockRef) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.addBlockRef(tx, hash, ref)
	})
}

func (s *BoltStore) addBlockRef(tx *bolt.Tx, hash hashutil.Hash, ref BlockRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketBlockRefs).Put(blockRefKey(hash, ref), data)
}

func (s *BoltStore) RemoveBlockRef(hash hashutil.Hash, ref BlockRef) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.removeBlockRef(tx, hash, ref)
	})
}

func (s *BoltStore) removeBlockRef(tx *bolt.Tx, hash hashutil.Hash, ref BlockRef) error {
	return tx.Bucket(bucketBlockRefs).Delete(blockRefKey(hash, ref))
}

// --- embeddings ---

func embeddingKey(path string, position int) []byte {
	return []byte(path + ":" + strconv.Itoa(position))
}

func (s *BoltStore) GetEmbedding(path string, position int) (EmbeddingRecord, bool, error) {
	var rec EmbeddingRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEmbeddings).Get(embeddingKey(path, position))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

func (s *BoltStore) ListEmbeddingsByPath(path string) ([]EmbeddingRecord, error) {
	prefix := []byte(path + ":")
	var recs []EmbeddingRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEmbeddings).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rec EmbeddingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

func (s *BoltStore) PutEmbedding(rec EmbeddingRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putEmbedding(tx, rec)
	})
}

func (s *BoltStore) putEmbedding(tx *bolt.Tx, rec EmbeddingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketEmbeddings).Put(embeddingKey(rec.Path, rec.Position), data)
}

func (s *BoltStore) DeleteEmbedding(path string, position int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.deleteEmbedding(tx, path, position)
	})
}

func (s *BoltStore) deleteEmbedding(tx *bolt.Tx, path string, position int) error {
	return tx.Bucket(bucketEmbeddings).Delete(embeddingKey(path, position))
}

// --- relations ---

func relationKey(rec RelationRecord) []byte {
	return []byte(rec.Source + ":" + rec.Target + ":" + rec.Kind)
}

func (s *BoltStore) ListRelationsBySource(path string) ([]RelationRecord, error) {
	prefix := []byte(path + ":")
	var recs []RelationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRelations).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rec RelationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

func (s *BoltStore) PutRelation(rec RelationRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putRelation(tx, rec)
	})
}

func (s *BoltStore) putRelation(tx *bolt.Tx, rec RelationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRelations).Put(relationKey(rec), data)
}

func (s *BoltStore) DeleteRelationsBySource(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.deleteRelationsBySource(tx, path)
	})
}

func (s *BoltStore) deleteRelationsBySource(tx *bolt.Tx, path string) error {
	b := tx.Bucket(bucketRelations)
	prefix := []byte(path + ":")
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- tags: tag_name -> [path] ---

func (s *BoltStore) AddTag(tag, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTags)
		paths, err := getStringSet(b, tag)
		if err != nil {
			return err
		}
		paths[path] = struct{}{}
		return putStringSet(b, tag, paths)
	})
}

func (s *BoltStore) RemoveTag(tag, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTags)
		paths, err := getStringSet(b, tag)
		if err != nil {
			return err
		}
		delete(paths, path)
		return putStringSet(b, tag, paths)
	})
}

func (s *BoltStore) ListPathsByTag(tag string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		paths, err := getStringSet(tx.Bucket(bucketTags), tag)
		if err != nil {
			return err
		}
		for p := range paths {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// --- wikilinks: source|target -> [context] ---

func wikilinkKey(source, target string) []byte {
	return []byte(source + "\x00" + target)
}

func (s *BoltStore) AddWikilink(source, target, context string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWikilinks)
		key := wikilinkKey(source, target)
		var contexts []string
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &contexts); err != nil {
				return err
			}
		}
		contexts = append(contexts, context)
		data, err := json.Marshal(contexts)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) RemoveWikilinksFromSource(source string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWikilinks)
		prefix := []byte(source + "\x00")
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListWikilinkContexts(source, target string) ([]string, error) {
	var contexts []string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWikilinks).Get(wikilinkKey(source, target))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &contexts)
	})
	return contexts, err
}

func getStringSet(b *bolt.Bucket, key string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	data := b.Get([]byte(key))
	if data == nil {
		return out, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	for _, v := range list {
		out[v] = struct{}{}
	}
	return out, nil
}

func putStringSet(b *bolt.Bucket, key string, set map[string]struct{}) error {
	if len(set) == 0 {
		return b.Delete([]byte(key))
	}
	list := make([]string, 0, len(set))
	for v := range set {
		list = append(list, v)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// ApplyNoteTransaction commits file state, note record, embedding
// upserts/deletes, and relation replacement in one BoltDB transaction so
// readers never observe a torn write (spec §4.2's atomicity guarantee,
// extended to the whole per-note record set persisted in phase 4).
func (s *BoltStore) ApplyNoteTransaction(ntx NoteTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.putFile(tx, ntx.Path, ntx.File); err != nil {
			return err
		}
		if err := s.putNote(tx, ntx.Note); err != nil {
			return err
		}
		for _, pos := range ntx.RemovedPositions {
			if err := s.deleteEmbedding(tx, ntx.Path, pos); err != nil {
				return err
			}
		}
		for _, emb := range ntx.Embeddings {
			if err := s.putEmbedding(tx, emb); err != nil {
				return err
			}
		}
		if ntx.ReplaceAllRelations {
			if err := s.deleteRelationsBySource(tx, ntx.Path); err != nil {
				return err
			}
		}
		for _, rel := range ntx.Relations {
			if err := s.putRelation(tx, rel); err != nil {
				return err
			}
		}
		return nil
	})
}
