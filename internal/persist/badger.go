package persist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/andiry/ocssd-broker/internal/vssd"
)

// keySeparator joins unitDesc and vssdID in the journal key, matching the
// `unitDesc|vssdID` scheme: Badger iterates keys in lexical order, so a
// prefix scan over `unitDesc|` recovers every grant for one Unit.
const keySeparator = "|"

// Badger is a Store backed by an embedded BadgerDB instance. Each grant
// is journaled as one key, reusing the VSSD wire codec to encode its
// single VUnit (wrapped in a one-unit VSSD so Decode can be reused
// as-is).
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a journal at dir.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: open badger journal: %w", err)
	}
	return &Badger{db: db}, nil
}

func journalKey(unitDesc string, vssdID uint32) []byte {
	return []byte(unitDesc + keySeparator + strconv.FormatUint(uint64(vssdID), 10))
}

func parseJournalKey(key []byte) (unitDesc string, vssdID uint32, ok bool) {
	s := string(key)
	idx := strings.LastIndex(s, keySeparator)
	if idx < 0 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return "", 0, false
	}
	return s[:idx], uint32(n), true
}

func (b *Badger) Record(g Grant) error {
	encoded := vssd.Encode(vssd.VSSD{ID: g.VSSDID, Units: []vssd.VUnit{g.Unit}})
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(g.UnitDesc, g.VSSDID), encoded)
	})
}

func (b *Badger) Load() ([]Grant, error) {
	var grants []Grant
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			unitDesc, vssdID, ok := parseJournalKey(item.Key())
			if !ok {
				continue
			}

			var grant Grant
			err := item.Value(func(val []byte) error {
				v, _, err := vssd.Decode(val)
				if err != nil {
					return err
				}
				if len(v.Units) != 1 {
					return fmt.Errorf("persist: journaled entry has %d units, want 1", len(v.Units))
				}
				grant = Grant{VSSDID: vssdID, UnitDesc: unitDesc, Unit: v.Units[0]}
				return nil
			})
			if err != nil {
				return err
			}
			grants = append(grants, grant)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist: load journal: %w", err)
	}
	return grants, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

var _ Store = (*Badger)(nil)
