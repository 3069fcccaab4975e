package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"

	"filecompare/pkg/normalize"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

const (
	maxTopBuckets = 256
	splitBits     = 4
	splitFan      = 1 << splitBits
	runBufferSize = 4 << 10
)

// run is an append-only file of (key, ref) records for one bucket, in the
// order they were added.
type run struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	cost    int64
	records int64
	scratch [binary.MaxVarintLen64]byte
}

func createRun(path string) (*run, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket run: %w", err)
	}
	return &run{path: path, f: f, w: bufio.NewWriterSize(f, runBufferSize)}, nil
}

func (r *run) append(key string, ref int) error {
	n := binary.PutUvarint(r.scratch[:], uint64(len(key)))
	if _, err := r.w.Write(r.scratch[:n]); err != nil {
		return err
	}
	if _, err := r.w.WriteString(key); err != nil {
		return err
	}
	n = binary.PutUvarint(r.scratch[:], uint64(ref))
	if _, err := r.w.Write(r.scratch[:n]); err != nil {
		return err
	}
	r.cost += entryCost(key, 1)
	r.records++
	return nil
}

func (r *run) close() error {
	if r.f == nil {
		return nil
	}
	ferr := r.w.Flush()
	cerr := r.f.Close()
	r.f = nil
	return errors.Join(ferr, cerr)
}

// scan calls fn for every record of a closed run.
func (r *run) scan(fn func(key string, ref int) error) error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64<<10)
	var key []byte
	for {
		klen, err := binary.ReadUvarint(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if uint64(cap(key)) < klen {
			key = make([]byte, klen)
		}
		key = key[:klen]
		if _, err := io.ReadFull(br, key); err != nil {
			return fmt.Errorf("%w: %v", errCorruptBucket, err)
		}
		ref, err := binary.ReadUvarint(br)
		if err != nil {
			return fmt.Errorf("%w: %v", errCorruptBucket, err)
		}
		if err := fn(string(key), int(ref)); err != nil {
			return err
		}
	}
}

func (r *run) group() (bucketEntries, error) {
	entries := make(bucketEntries)
	err := r.scan(func(key string, ref int) error {
		entries[key] = append(entries[key], ref)
		return nil
	})
	return entries, err
}

type spillWriter struct {
	opts Options
	dir  string
	bits uint
	runs []*run
}

func newSpillWriter(opts Options, buckets int) (*spillWriter, error) {
	dir, err := os.MkdirTemp(opts.SpillDir, "filecompare-index-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spill directory: %w", err)
	}
	return &spillWriter{
		opts: opts,
		dir:  dir,
		bits: uint(bits.TrailingZeros(uint(buckets))),
		runs: make([]*run, buckets),
	}, nil
}

func (sw *spillWriter) add(key string, ref int) error {
	i := xxhash.Sum64String(key) >> (64 - sw.bits)
	r := sw.runs[i]
	if r == nil {
		var err error
		r, err = createRun(filepath.Join(sw.dir, fmt.Sprintf("%03x.run", i)))
		if err != nil {
			return err
		}
		sw.runs[i] = r
	}
	return r.append(key, ref)
}

func (sw *spillWriter) remove() {
	for _, r := range sw.runs {
		if r != nil {
			r.close()
		}
	}
	if err := os.RemoveAll(sw.dir); err != nil {
		slog.Warn("failed to remove spill directory", "dir", sw.dir, "error", err)
	}
}

// seal turns every run into one or more immutable bucket files. A run
// whose estimated size exceeds the budget is split on the next hash bits
// until each piece fits or consists of a single key.
func (sw *spillWriter) seal(ctx context.Context) (*spillIndex, error) {
	idx := &spillIndex{
		dir:      sw.dir,
		compress: sw.opts.Compress,
		bits:     sw.bits,
		top:      make([]*bucket, len(sw.runs)),
		cache:    newBucketCache(sw.opts.MemoryBudget),
	}
	idx.stats.Spilled = true

	for i, r := range sw.runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r == nil {
			idx.top[i] = &bucket{}
			continue
		}
		b, err := sw.sealRun(r, fmt.Sprintf("%03x", i), 64-sw.bits, &idx.stats)
		if err != nil {
			return nil, err
		}
		idx.top[i] = b
	}

	slog.Debug("spilled index sealed",
		"dir", sw.dir, "buckets", idx.stats.Buckets, "splits", idx.stats.Splits, "keys", idx.stats.Keys, "bytes", idx.stats.SpillBytes)
	return idx, nil
}

func (sw *spillWriter) sealRun(r *run, id string, shift uint, st *Stats) (*bucket, error) {
	if err := r.close(); err != nil {
		return nil, err
	}
	defer os.Remove(r.path)

	budget := sw.opts.MemoryBudget
	if budget <= 0 || r.cost <= budget {
		entries, err := r.group()
		if err != nil {
			return nil, err
		}
		return sw.writeLeaf(id, entries, st)
	}

	children, single, err := sw.split(r, id, shift)
	if err != nil {
		return nil, err
	}
	if single != nil {
		if single.cost > budget {
			return nil, &OverflowError{Key: normalize.Parse(single.key).Text(), Bytes: single.cost, Budget: budget}
		}
		entries, err := r.group()
		if err != nil {
			return nil, err
		}
		return sw.writeLeaf(id, entries, st)
	}

	st.Splits++
	b := &bucket{children: make([]*bucket, splitFan)}
	for j, c := range children {
		if c == nil {
			b.children[j] = &bucket{}
			continue
		}
		child, err := sw.sealRun(c, fmt.Sprintf("%s-%x", id, j), shift-splitBits, st)
		if err != nil {
			for _, rest := range children[j+1:] {
				if rest != nil {
					rest.close()
				}
			}
			return nil, err
		}
		b.children[j] = child
	}
	return b, nil
}

type singleKey struct {
	key  string
	cost int64
}

// split distributes the records of r over splitFan child runs using the
// hash bits just below shift. When every record carries the same key no
// child runs are kept and the key is returned instead.
func (sw *spillWriter) split(r *run, id string, shift uint) ([]*run, *singleKey, error) {
	var (
		children = make([]*run, splitFan)
		first    string
		same     = true
		n        int
	)
	cleanup := func() {
		for _, c := range children {
			if c != nil {
				c.close()
				os.Remove(c.path)
			}
		}
	}

	if shift < splitBits {
		// no hash bits left: only a single key can end up here
		err := r.scan(func(key string, _ int) error {
			if n == 0 {
				first = key
			}
			n++
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		return nil, &singleKey{key: first, cost: entryCost(first, n)}, nil
	}

	err := r.scan(func(key string, ref int) error {
		if n == 0 {
			first = key
		}
		same = same && key == first
		n++

		j := (xxhash.Sum64String(key) >> (shift - splitBits)) & (splitFan - 1)
		c := children[j]
		if c == nil {
			var err error
			c, err = createRun(filepath.Join(sw.dir, fmt.Sprintf("%s-%x.run", id, j)))
			if err != nil {
				return err
			}
			children[j] = c
		}
		return c.append(key, ref)
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if same {
		cleanup()
		return nil, &singleKey{key: first, cost: entryCost(first, n)}, nil
	}
	return children, nil, nil
}

func (sw *spillWriter) writeLeaf(id string, entries bucketEntries, st *Stats) (*bucket, error) {
	data := encodeBucket(entries, sw.opts.Compress)
	path := filepath.Join(sw.dir, id+".bkt")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write bucket: %w", err)
	}

	bloom := newBloomFilter(len(entries), sw.opts.BloomFPRate)
	for k := range entries {
		bloom.add(xxhash.Sum64String(k))
	}

	st.Buckets++
	st.Keys += int64(len(entries))
	st.SpillBytes += int64(len(data))
	return &bucket{id: id, path: path, bloom: bloom, keys: len(entries)}, nil
}

// bucket is a leaf holding a sealed file, or an inner node routing on the
// next splitBits of the key hash.
type bucket struct {
	id       string
	path     string
	bloom    *bloomFilter
	keys     int
	children []*bucket
}

type spillIndex struct {
	dir      string
	compress bool
	bits     uint
	top      []*bucket

	cache *bucketCache
	loads singleflight.Group
	stats Stats
}

func (idx *spillIndex) Lookup(key normalize.Key) ([]int, error) {
	k := key.String()
	h := xxhash.Sum64String(k)
	b := idx.route(h)
	if b.keys == 0 || !b.bloom.mayContain(h) {
		return nil, nil
	}

	entries, err := idx.stage(b)
	if err != nil {
		return nil, err
	}
	return entries[k], nil
}

func (idx *spillIndex) route(h uint64) *bucket {
	shift := 64 - idx.bits
	b := idx.top[h>>shift]
	for b.children != nil {
		shift -= splitBits
		b = b.children[(h>>shift)&(splitFan-1)]
	}
	return b
}

// stage returns the bucket's entries, loading the file at most once for
// concurrent callers.
func (idx *spillIndex) stage(b *bucket) (bucketEntries, error) {
	if entries, ok := idx.cache.get(b.id); ok {
		return entries, nil
	}

	v, err, _ := idx.loads.Do(b.id, func() (any, error) {
		data, err := os.ReadFile(b.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read bucket %s: %w", b.id, err)
		}
		entries, weight, err := decodeBucket(data, idx.compress)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", b.id, err)
		}
		idx.cache.set(b.id, entries, weight)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(bucketEntries), nil
}

func (idx *spillIndex) Stats() Stats { return idx.stats }

func (idx *spillIndex) CacheStats() CacheStats { return idx.cache.stats() }

func (idx *spillIndex) Close() error {
	return os.RemoveAll(idx.dir)
}

// CacheStatsOf reports bucket staging counters for spilled indexes.
func CacheStatsOf(idx Index) (CacheStats, bool) {
	if s, ok := idx.(interface{ CacheStats() CacheStats }); ok {
		return s.CacheStats(), true
	}
	return CacheStats{}, false
}
