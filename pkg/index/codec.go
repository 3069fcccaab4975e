package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/klauspost/compress/zstd"
)

// Sealed bucket layout, optionally zstd-compressed as a whole:
//
//	uvarint keyCount
//	keyCount × { uvarint keyLen, key, uvarint refCount, refCount × uvarint delta }
//
// Refs are ascending, stored as deltas from the previous ref of the key.

var errCorruptBucket = errors.New("index: corrupt bucket")

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func encodeBucket(entries bucketEntries, compress bool) []byte {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	buf := binary.AppendUvarint(nil, uint64(len(keys)))
	for _, k := range keys {
		refs := entries[k]
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		buf = binary.AppendUvarint(buf, uint64(len(refs)))
		prev := 0
		for _, r := range refs {
			buf = binary.AppendUvarint(buf, uint64(r-prev))
			prev = r
		}
	}

	if compress {
		return zstdEncoder.EncodeAll(buf, make([]byte, 0, len(buf)/2))
	}
	return buf
}

// decodeBucket returns the entries and their in-memory weight.
func decodeBucket(data []byte, compressed bool) (bucketEntries, int64, error) {
	if compressed {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", errCorruptBucket, err)
		}
		data = raw
	}

	next := func() (uint64, error) {
		v, n := binary.Uvarint(data)
		if n <= 0 {
			return 0, errCorruptBucket
		}
		data = data[n:]
		return v, nil
	}

	count, err := next()
	if err != nil {
		return nil, 0, err
	}
	entries := make(bucketEntries, count)
	var weight int64
	for i := uint64(0); i < count; i++ {
		klen, err := next()
		if err != nil {
			return nil, 0, err
		}
		if klen > uint64(len(data)) {
			return nil, 0, errCorruptBucket
		}
		key := string(data[:klen])
		data = data[klen:]

		nrefs, err := next()
		if err != nil {
			return nil, 0, err
		}
		refs := make([]int, nrefs)
		prev := 0
		for j := range refs {
			d, err := next()
			if err != nil {
				return nil, 0, err
			}
			prev += int(d)
			refs[j] = prev
		}
		entries[key] = refs
		weight += entryCost(key, len(refs))
	}
	return entries, weight, nil
}
