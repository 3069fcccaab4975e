package index

import (
	"strings"

	"filecompare/pkg/normalize"

	"github.com/zhangyunhao116/skipmap"
)

// entryOverhead approximates the skip list node, string header and slice
// header kept for every distinct key.
const (
	entryOverhead = 64
	refSize       = 8
)

type orderedRefs = skipmap.FuncMap[string, []int]

type memIndex struct {
	m     *orderedRefs
	bytes int64
}

func newMemIndex() *memIndex {
	return &memIndex{
		m: skipmap.NewFunc[string, []int](func(a, b string) bool {
			return strings.Compare(a, b) < 0
		}),
	}
}

// add is called by the single build goroutine only.
func (mi *memIndex) add(key string, ref int) {
	refs, ok := mi.m.Load(key)
	if !ok {
		mi.bytes += int64(len(key)) + entryOverhead
	}
	mi.m.Store(key, append(refs, ref))
	mi.bytes += refSize
}

func (mi *memIndex) each(fn func(key string, refs []int) bool) {
	mi.m.Range(fn)
}

func entryCost(key string, refs int) int64 {
	return int64(len(key)) + entryOverhead + int64(refs)*refSize
}

type memoryIndex struct {
	mem   *memIndex
	stats Stats
}

func (idx *memoryIndex) Lookup(key normalize.Key) ([]int, error) {
	refs, _ := idx.mem.m.Load(key.String())
	return refs, nil
}

func (idx *memoryIndex) Stats() Stats { return idx.stats }

func (idx *memoryIndex) Close() error { return nil }
