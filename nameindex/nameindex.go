// Package nameindex keeps name records in memory together with a secondary
// index ordered by (first character of name, score). Writes go through
// go-memdb transactions, so the primary rows and the index never disagree.
package nameindex

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/hashicorp/go-memdb"

	"github.com/Skryldev/schemakit/models"
	"github.com/Skryldev/schemakit/rules"
)

const (
	table             = "names"
	indexID           = "id"
	indexInitialScore = "initial_score"
)

var (
	// ErrNotFound is returned by Delete for an unknown id.
	ErrNotFound = errors.New("nameindex: not found")
	// ErrInvalidName is returned by Put for a name that is not valid UTF-8.
	// Its first character would decode to U+FFFD and share that initial with
	// every other broken name.
	ErrInvalidName = errors.New("nameindex: name is not valid UTF-8")
)

// Index is safe for concurrent use. Readers see a consistent snapshot.
type Index struct {
	db      *memdb.MemDB
	compare rules.Comparison
}

// New returns an empty index. compare decides whether "Anna" and "anna"
// share an initial.
func New(compare rules.Comparison) (*Index, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			table: {
				Name: table,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					indexInitialScore: {
						Name:         indexInitialScore,
						Unique:       true,
						AllowMissing: true,
						Indexer:      &initialScoreIndexer{compare: compare},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("nameindex: %w", err)
	}
	return &Index{db: db, compare: compare}, nil
}

// Writer stages changes inside one Update call.
type Writer struct {
	txn *memdb.Txn
}

// Put inserts rec or replaces the record with the same id.
func (w *Writer) Put(rec models.NameRecord) error {
	if !utf8.ValidString(rec.Name) {
		return fmt.Errorf("nameindex: put %d: %w", rec.ID, ErrInvalidName)
	}
	cp := rec
	if err := w.txn.Insert(table, &cp); err != nil {
		return fmt.Errorf("nameindex: put %d: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the record with id.
func (w *Writer) Delete(id int64) error {
	raw, err := w.txn.First(table, indexID, id)
	if err != nil {
		return fmt.Errorf("nameindex: delete %d: %w", id, err)
	}
	if raw == nil {
		return fmt.Errorf("nameindex: delete %d: %w", id, ErrNotFound)
	}
	if err := w.txn.Delete(table, raw); err != nil {
		return fmt.Errorf("nameindex: delete %d: %w", id, err)
	}
	return nil
}

// Update runs fn in a write transaction. The changes become visible together
// when fn returns nil and are discarded when it returns an error.
func (i *Index) Update(fn func(*Writer) error) error {
	txn := i.db.Txn(true)
	defer txn.Abort()
	if err := fn(&Writer{txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (i *Index) Put(rec models.NameRecord) error {
	return i.Update(func(w *Writer) error { return w.Put(rec) })
}

func (i *Index) Delete(id int64) error {
	return i.Update(func(w *Writer) error { return w.Delete(id) })
}

// Load puts every record in one transaction.
func (i *Index) Load(recs []models.NameRecord) error {
	return i.Update(func(w *Writer) error {
		for _, rec := range recs {
			if err := w.Put(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (i *Index) Get(id int64) (models.NameRecord, bool) {
	raw, err := i.db.Txn(false).First(table, indexID, id)
	if err != nil || raw == nil {
		return models.NameRecord{}, false
	}
	return *raw.(*models.NameRecord), true
}

// Len counts every record.
func (i *Index) Len() int {
	it, err := i.db.Txn(false).Get(table, indexID)
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}

// ByInitial returns up to limit records whose name starts with initial, in
// ascending score order with ties broken by id. A limit of zero or less means
// no limit.
func (i *Index) ByInitial(initial string, limit int) []models.NameRecord {
	return i.scan(initial, math.MinInt64, math.MaxInt64, limit)
}

// Range returns every record with the given initial and min <= score <= max,
// in ascending order.
func (i *Index) Range(initial string, min, max int64) []models.NameRecord {
	return i.scan(initial, min, max, 0)
}

func (i *Index) scan(initial string, min, max int64, limit int) []models.NameRecord {
	if !i.validInitial(initial) || min > max {
		return nil
	}
	it, err := i.db.Txn(false).LowerBound(table, indexInitialScore, initial, min)
	if err != nil {
		return nil
	}
	return i.collect(it, initial, func(rec *models.NameRecord) bool { return rec.Score <= max }, limit)
}

// Top returns the n highest-scoring records with the given initial, highest
// first. Equal scores come out in descending id order.
func (i *Index) Top(initial string, n int) []models.NameRecord {
	if !i.validInitial(initial) || n <= 0 {
		return nil
	}
	it, err := i.db.Txn(false).ReverseLowerBound(table, indexInitialScore,
		initial, int64(math.MaxInt64), int64(math.MaxInt64))
	if err != nil {
		return nil
	}
	return i.collect(it, initial, func(*models.NameRecord) bool { return true }, n)
}

func (i *Index) collect(it memdb.ResultIterator, initial string, keep func(*models.NameRecord) bool, limit int) []models.NameRecord {
	want := rules.Initial(initial, i.compare)
	var out []models.NameRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(*models.NameRecord)
		if rules.Initial(rec.Name, i.compare) != want || !keep(rec) {
			break
		}
		out = append(out, *rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (i *Index) validInitial(initial string) bool {
	return initial != "" && rules.Initial(initial, i.compare) == i.compare.Fold(initial)
}
