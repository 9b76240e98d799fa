package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixObject    = byte(0x01) // object:id -> {}
	prefixLink      = byte(0x02) // link:id -> JSON(Link)
	prefixAttrDef   = byte(0x03) // attrdef:kind:name -> JSON(AttrDef)
	prefixAttrValue = byte(0x04) // attrval:kind:name:0x00:id -> JSON([]any)
	prefixContainer = byte(0x05) // container:name -> JSON(Container)
)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Objects: 0x01 + id(8 bytes BE) -> empty
//   - Links: 0x02 + id(8 bytes BE) -> JSON(Link)
//   - Attribute definitions: 0x03 + kind + name -> JSON(AttrDef)
//   - Attribute values: 0x04 + kind + name + 0x00 + id(8 bytes BE) -> JSON([]any)
//   - Containers: 0x05 + name -> JSON(Container)
//
// Ids are stored big-endian so prefix scans return them in ascending order
// for non-negative ids.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.CreateObject(1)
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex // Protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB output goes to the storage logging realm.
	Logger badger.Logger

	// LowMemory reduces memtable and cache sizes.
	LowMemory bool
}

// NewBadgerEngine creates a persistent engine in dataDir with default
// settings.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/proximity")
//	if err != nil {
//		return fmt.Errorf("failed to open database: %w", err)
//	}
//	defer engine.Close()
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Configuration Trade-offs:
//   - SyncWrites=true: Slower writes but maximum safety
//   - LowMemory=true: Less RAM but slightly slower
//   - InMemory=true: Fastest but data lost on shutdown
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{})
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{db: db}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Example:
//
//	engine, err := storage.NewBadgerEngineInMemory()
//	if err != nil {
//		t.Fatal(err)
//	}
//	defer engine.Close()
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func idBytes(id ItemID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func objectKey(id ItemID) []byte {
	return append([]byte{prefixObject}, idBytes(id)...)
}

func linkKey(id ItemID) []byte {
	return append([]byte{prefixLink}, idBytes(id)...)
}

func attrDefKey(kind ItemKind, name string) []byte {
	key := make([]byte, 0, 2+len(name))
	key = append(key, prefixAttrDef, byte(kind))
	return append(key, name...)
}

// attrValuePrefix returns the prefix for scanning all values of an attribute.
// Format: prefix + kind + name + 0x00
func attrValuePrefix(kind ItemKind, name string) []byte {
	key := make([]byte, 0, 3+len(name)+8)
	key = append(key, prefixAttrValue, byte(kind))
	key = append(key, name...)
	return append(key, 0x00)
}

func attrValueKey(kind ItemKind, name string, id ItemID) []byte {
	return append(attrValuePrefix(kind, name), idBytes(id)...)
}

func containerKey(name string) []byte {
	return append([]byte{prefixContainer}, name...)
}

// extractID reads the trailing 8-byte id of a key.
func extractID(key []byte) ItemID {
	if len(key) < 8 {
		return 0
	}
	return ItemID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return txn.Set(key, data)
}

// scanPrefix calls fn for every key with the prefix. Values are fetched only
// when withValues is set.
func (b *BadgerEngine) scanPrefix(prefix []byte, withValues bool, fn func(key, val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValues
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if !withValues {
				if err := fn(key, nil); err != nil {
					return err
				}
				continue
			}
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// Graph
// ============================================================================

// CreateObject adds an object.
func (b *BadgerEngine) CreateObject(id ItemID) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := objectKey(id)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("object %d: %w", id, ErrAlreadyExists)
		}
		return txn.Set(key, []byte{})
	})
}

// CreateLink adds a link. Both endpoints must exist.
func (b *BadgerEngine) CreateLink(link Link) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := linkKey(link.ID)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("link %d: %w", link.ID, ErrAlreadyExists)
		}
		for _, end := range []ItemID{link.O1, link.O2} {
			ok, err := exists(txn, objectKey(end))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("link %d: %w", link.ID, ErrInvalidLink)
			}
		}
		return setJSON(txn, key, link)
	})
}

// Objects returns the ids of all objects.
func (b *BadgerEngine) Objects() (IDSet, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	out := make(IDSet)
	err := b.scanPrefix([]byte{prefixObject}, false, func(key, _ []byte) error {
		out.Add(extractID(key))
		return nil
	})
	return out, err
}

// Links returns all links ordered by id.
func (b *BadgerEngine) Links() ([]Link, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var out []Link
	err := b.scanPrefix([]byte{prefixLink}, true, func(_, val []byte) error {
		var l Link
		if err := json.Unmarshal(val, &l); err != nil {
			return fmt.Errorf("failed to decode link: %w", err)
		}
		out = append(out, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLink returns one link.
func (b *BadgerEngine) GetLink(id ItemID) (Link, error) {
	if err := b.checkOpen(); err != nil {
		return Link{}, err
	}
	var l Link
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, linkKey(id), &l)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Link{}, fmt.Errorf("link %d: %w", id, ErrNotFound)
	}
	return l, err
}

func (b *BadgerEngine) countPrefix(prefix byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	var count int64
	err := b.scanPrefix([]byte{prefix}, false, func(_, _ []byte) error {
		count++
		return nil
	})
	return count, err
}

// ObjectCount returns the number of objects.
func (b *BadgerEngine) ObjectCount() (int64, error) {
	return b.countPrefix(prefixObject)
}

// LinkCount returns the number of links.
func (b *BadgerEngine) LinkCount() (int64, error) {
	return b.countPrefix(prefixLink)
}

// ============================================================================
// Attributes
// ============================================================================

// DefineAttribute declares an attribute. Redefining with the same type is a
// no-op.
func (b *BadgerEngine) DefineAttribute(def AttrDef) error {
	if def.Name == "" {
		return ErrInvalidData
	}
	if _, err := ParseValueType(string(def.Type)); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := attrDefKey(def.Kind, def.Name)
		var existing AttrDef
		err := getJSON(txn, key, &existing)
		switch {
		case err == nil:
			if existing.Type != def.Type {
				return fmt.Errorf("%s attribute %q already defined as %s: %w", def.Kind, def.Name, existing.Type, ErrAlreadyExists)
			}
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return setJSON(txn, key, def)
	})
}

// AttrDef returns the declaration of an attribute.
func (b *BadgerEngine) AttrDef(kind ItemKind, name string) (AttrDef, error) {
	if err := b.checkOpen(); err != nil {
		return AttrDef{}, err
	}
	var def AttrDef
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, attrDefKey(kind, name), &def)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return AttrDef{}, fmt.Errorf("%s attribute %q: %w", kind, name, ErrUnknownAttr)
	}
	return def, err
}

// Attributes lists the attributes declared for a kind, ordered by name.
func (b *BadgerEngine) Attributes(kind ItemKind) ([]AttrDef, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var out []AttrDef
	err := b.scanPrefix([]byte{prefixAttrDef, byte(kind)}, true, func(_, val []byte) error {
		var def AttrDef
		if err := json.Unmarshal(val, &def); err != nil {
			return fmt.Errorf("failed to decode attribute definition: %w", err)
		}
		out = append(out, def)
		return nil
	})
	return out, err
}

// SetAttribute appends a value for an item, coerced to the declared type.
func (b *BadgerEngine) SetAttribute(kind ItemKind, name string, id ItemID, value any) error {
	def, err := b.AttrDef(kind, name)
	if err != nil {
		return err
	}
	v, err := def.Type.Coerce(value)
	if err != nil {
		return fmt.Errorf("%s attribute %q of %d: %w", kind, name, id, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := attrValueKey(kind, name, id)
		var values []any
		if err := getJSON(txn, key, &values); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, append(values, v))
	})
}

// AttrValues returns the values of an attribute for every item that has one.
// JSON-decoded values are coerced back to the declared type.
func (b *BadgerEngine) AttrValues(kind ItemKind, name string) (map[ItemID][]any, error) {
	def, err := b.AttrDef(kind, name)
	if err != nil {
		return nil, err
	}
	out := make(map[ItemID][]any)
	err = b.scanPrefix(attrValuePrefix(kind, name), true, func(key, val []byte) error {
		var raw []any
		if err := json.Unmarshal(val, &raw); err != nil {
			return fmt.Errorf("failed to decode attribute values: %w", err)
		}
		values := make([]any, 0, len(raw))
		for _, r := range raw {
			v, err := def.Type.Coerce(r)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		out[extractID(key)] = values
		return nil
	})
	return out, err
}

// ============================================================================
// Containers
// ============================================================================

// SaveContainer stores a container under its name, replacing an existing one.
func (b *BadgerEngine) SaveContainer(c *Container) error {
	sealed, err := sealContainer(c)
	if err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, containerKey(sealed.Name), sealed)
	})
}

// GetContainer loads a container and verifies its digest.
func (b *BadgerEngine) GetContainer(name string) (*Container, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var c Container
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, containerKey(name), &c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("container %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load container %q: %w", name, err)
	}
	if err := verifyContainer(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteContainer removes a container.
func (b *BadgerEngine) DeleteContainer(name string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := containerKey(name)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("container %q: %w", name, ErrNotFound)
		}
		return txn.Delete(key)
	})
}

// ContainerNames lists stored containers in name order.
func (b *BadgerEngine) ContainerNames() ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var out []string
	err := b.scanPrefix([]byte{prefixContainer}, false, func(key, _ []byte) error {
		out = append(out, string(key[1:]))
		return nil
	})
	return out, err
}

// Close closes the underlying database. Closing twice is a no-op.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.db.Close()
}

// Sync forces a sync of all data to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

var _ Engine = (*BadgerEngine)(nil)
