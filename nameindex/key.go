package nameindex

import (
	"encoding/binary"
	"fmt"

	"github.com/Skryldev/schemakit/models"
	"github.com/Skryldev/schemakit/rules"
)

// initialScoreIndexer builds the (initial, score, id) key of the
// initial_score index. Keys compare bytewise in the same order as the tuple:
// the initial is followed by a zero separator, and both integers are written
// big-endian with the sign bit flipped so negative values sort first.
type initialScoreIndexer struct {
	compare rules.Comparison
}

func (x *initialScoreIndexer) FromObject(obj any) (bool, []byte, error) {
	rec, ok := obj.(*models.NameRecord)
	if !ok {
		return false, nil, fmt.Errorf("nameindex: unexpected object %T", obj)
	}
	initial := rules.Initial(rec.Name, x.compare)
	if initial == "" {
		return false, nil, nil
	}
	return true, encodeKey(initial, &rec.Score, &rec.ID), nil
}

// FromArgs accepts (initial), (initial, score) or (initial, score, id).
func (x *initialScoreIndexer) FromArgs(args ...any) ([]byte, error) {
	if len(args) == 0 || len(args) > 3 {
		return nil, fmt.Errorf("nameindex: expected 1 to 3 arguments, got %d", len(args))
	}
	initial, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("nameindex: initial must be a string, got %T", args[0])
	}
	initial = rules.Initial(initial, x.compare)

	var nums [2]*int64
	for i, a := range args[1:] {
		n, ok := a.(int64)
		if !ok {
			return nil, fmt.Errorf("nameindex: argument %d must be int64, got %T", i+1, a)
		}
		nums[i] = &n
	}
	return encodeKey(initial, nums[0], nums[1]), nil
}

func (x *initialScoreIndexer) PrefixFromArgs(args ...any) ([]byte, error) {
	return x.FromArgs(args...)
}

func encodeKey(initial string, score, id *int64) []byte {
	key := make([]byte, 0, len(initial)+1+16)
	key = append(key, initial...)
	key = append(key, 0)
	if score == nil {
		return key
	}
	key = binary.BigEndian.AppendUint64(key, sortable(*score))
	if id == nil {
		return key
	}
	return binary.BigEndian.AppendUint64(key, sortable(*id))
}

func sortable(n int64) uint64 { return uint64(n) ^ (1 << 63) }
