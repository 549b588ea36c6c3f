// Package fec provides optional Reed-Solomon parity protection for the
// two header members of a version-2 stream (backup-header and its
// .hmac), the one part of the archive that necessarily travels before any
// HMAC algorithm has been adopted (§4.D). Data chunks are never touched
// by this package — their integrity already comes from the HMAC gate
// (§4.C) and adding FEC there would just be redundant weight.
//
// Adapted from the teacher's internal/fec package: same Encoder/Decoder
// shape over github.com/klauspost/reedsolomon, repurposed from protecting
// QUIC datagram loss to protecting the two small header files against
// single-shard corruption introduced by an unreliable transport.
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Protect splits data into k equal-size data shards (padding the last
// shard with zeros if needed) and returns k+r shards, the trailing r
// being parity. k and r must each be between 1 and 256.
func Protect(data []byte, k, r int) (shards [][]byte, shardSize int, err error) {
	if k < 1 || k > 256 || r < 1 || r > 256 {
		return nil, 0, fmt.Errorf("fec: k and r must be in [1,256], got k=%d r=%d", k, r)
	}
	enc, err := reedsolomon.New(k, r)
	if err != nil {
		return nil, 0, fmt.Errorf("fec: new encoder: %w", err)
	}

	shardSize = (len(data) + k - 1) / k
	if shardSize == 0 {
		shardSize = 1
	}
	all := make([][]byte, k+r)
	for i := 0; i < k; i++ {
		start := i * shardSize
		end := start + shardSize
		shard := make([]byte, shardSize)
		if start < len(data) {
			copy(shard, data[start:minInt(end, len(data))])
		}
		all[i] = shard
	}
	for i := k; i < k+r; i++ {
		all[i] = make([]byte, shardSize)
	}

	if err := enc.Encode(all); err != nil {
		return nil, 0, fmt.Errorf("fec: encode: %w", err)
	}
	return all, shardSize, nil
}

// Reconstruct fills in any nil shards in place, tolerating up to r
// losses, then returns the original data trimmed to originalLen.
func Reconstruct(shards [][]byte, k, r, originalLen int) ([]byte, error) {
	enc, err := reedsolomon.New(k, r)
	if err != nil {
		return nil, fmt.Errorf("fec: new decoder: %w", err)
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("fec: reconstruct: %w", err)
	}
	out := make([]byte, 0, originalLen)
	for i := 0; i < k && len(out) < originalLen; i++ {
		remaining := originalLen - len(out)
		if remaining >= len(shards[i]) {
			out = append(out, shards[i]...)
		} else {
			out = append(out, shards[i][:remaining]...)
		}
	}
	return out, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
