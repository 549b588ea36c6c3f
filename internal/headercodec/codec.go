// Package headercodec implements HeaderCodec (§4.D): serializing and
// parsing the backup-header record and its accompanying .hmac file,
// including the restore-side algorithm auto-detection loop.
//
// Grounded on internal/backuptypes.BackupHeader's Encode/DecodeHeader
// (the key=value grammar), wired to digesttool.Digester the same way
// chunkio uses it.
package headercodec

import (
	"bytes"
	"fmt"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/digesttool"
)

// HeaderFilename and HMACFilename are the two fixed outer-archive member
// names carrying the header record (§6 item 1-2).
const (
	HeaderFilename = "backup-header"
	HMACFilename   = HeaderFilename + backuptypes.HMACSuffix
)

// Write serializes h and returns the header bytes plus the authenticator
// line for backup-header.hmac, computed with the header's own declared
// HMACAlgorithm and passphrase.
func Write(h backuptypes.BackupHeader, passphrase string) (headerBytes, hmacLine []byte, err error) {
	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		return nil, nil, err
	}
	digest, err := digesttool.NewDigester().SumReader(h.HMACAlgorithm, passphrase, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, nil, err
	}
	line := fmt.Sprintf("%s(stdin)= %s\n", h.HMACAlgorithm, digest)
	return buf.Bytes(), []byte(line), nil
}

// Read parses headerBytes and verifies hmacLine by trying defaultAlgorithm
// first, then every algorithm in digesttool.DefaultAlgorithms, adopting
// the first one that verifies (§4.D). Returns backuptypes.ErrCorruptHeader
// wrapped with the attempted algorithms if none verify.
func Read(headerBytes, hmacLine []byte, defaultAlgorithm, passphrase string) (backuptypes.BackupHeader, string, error) {
	h, err := backuptypes.DecodeHeader(bytes.NewReader(headerBytes))
	if err != nil {
		return backuptypes.BackupHeader{}, "", err
	}

	want, err := backuptypes.ParseAuthenticator(string(hmacLine))
	if err != nil {
		return backuptypes.BackupHeader{}, "", fmt.Errorf("%w: %v", backuptypes.ErrCorruptHeader, err)
	}

	candidates := make([]string, 0, len(digesttool.DefaultAlgorithms)+1)
	if defaultAlgorithm != "" {
		candidates = append(candidates, defaultAlgorithm)
	}
	for _, algo := range digesttool.DefaultAlgorithms {
		if algo != defaultAlgorithm {
			candidates = append(candidates, algo)
		}
	}

	digester := digesttool.NewDigester()
	for _, algo := range candidates {
		got, err := digester.SumReader(algo, passphrase, bytes.NewReader(headerBytes))
		if err != nil {
			continue
		}
		if got == want {
			return h, algo, nil
		}
	}
	return backuptypes.BackupHeader{}, "", fmt.Errorf("%w: no algorithm among %v verified backup-header.hmac", backuptypes.ErrCorruptHeader, candidates)
}
