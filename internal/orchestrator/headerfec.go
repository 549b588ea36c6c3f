package orchestrator

import (
	"fmt"

	"github.com/itinerarium/qubes-core-admin/internal/fec"
)

// headerFECShardPrefix names every shard member produced by
// protectHeaderBytes; Restore uses it to recognize and skip shard members
// it does not need once the plain header pair has verified.
const headerFECShardPrefix = "backup-header.fec"

// headerFECDataShards is k in the Reed-Solomon split of the header member
// pair: one data shard carrying the whole combined blob, since the blob is
// small and the point is redundancy against loss, not parallel decode.
const headerFECDataShards = 1

// headerFECShardName names the Nth parity-protected shard of the header
// pair, emitted as extra outer-archive members right after
// backup-header.hmac (§6 item order is otherwise unchanged).
func headerFECShardName(idx int) string {
	return fmt.Sprintf("backup-header.fec%03d", idx)
}

// protectHeaderBytes splits combined (header bytes followed by its hmac
// line) into headerFECDataShards data shard plus parity parity shards.
func protectHeaderBytes(combined []byte, parity int) (names []string, shards map[string][]byte, err error) {
	raw, _, err := fec.Protect(combined, headerFECDataShards, parity)
	if err != nil {
		return nil, nil, fmt.Errorf("protecting header: %w", err)
	}
	shards = make(map[string][]byte, len(raw))
	for i, s := range raw {
		name := headerFECShardName(i)
		names = append(names, name)
		shards[name] = s
	}
	return names, shards, nil
}
