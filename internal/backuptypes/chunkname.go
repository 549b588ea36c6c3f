package backuptypes

import (
	"fmt"
	"strings"
)

// HMACSuffix is appended to a chunk filename to name its authenticator.
const HMACSuffix = ".hmac"

// FirstChunkSuffix marks the start of a new logical file (§3).
const FirstChunkSuffix = ".000"

// ChunkName builds the on-disk / on-wire name for chunk index idx of the
// logical file named logical: "<logical>.NNN", NNN zero-padded to 3
// digits starting at 000.
func ChunkName(logical string, idx int) string {
	return fmt.Sprintf("%s.%03d", logical, idx)
}

// HMACName is the authenticator filename for a chunk name.
func HMACName(chunkName string) string {
	return chunkName + HMACSuffix
}

// IsFirstChunk reports whether chunkName is the ".000" chunk of its
// logical file.
func IsFirstChunk(chunkName string) bool {
	return strings.HasSuffix(chunkName, FirstChunkSuffix)
}

// LogicalPrefix strips the trailing ".NNN" chunk index, returning the
// logical file name the chunk belongs to. Returns ok=false if chunkName
// does not end in a 3-digit numeric suffix.
func LogicalPrefix(chunkName string) (logical string, ok bool) {
	if len(chunkName) < 4 || chunkName[len(chunkName)-4] != '.' {
		return "", false
	}
	suffix := chunkName[len(chunkName)-3:]
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return chunkName[:len(chunkName)-4], true
}
