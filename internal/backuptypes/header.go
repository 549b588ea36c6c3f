package backuptypes

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// BackupHeader is the small key/value record declaring the parameters of
// a version-2 stream (§3, §6). Unknown keys are ignored on read, forward
// compatibility for future header extensions.
type BackupHeader struct {
	HMACAlgorithm   string
	CryptoAlgorithm string
	Encrypted       bool
	Compressed      bool

	// FECParity, when > 0, names the number of Reed-Solomon parity shards
	// the header pair itself was protected with on the wire (SPEC_FULL
	// §B, internal/fec). Zero means the header was sent unprotected.
	FECParity int
}

const (
	keyHMACAlgorithm   = "hmac-algorithm"
	keyCryptoAlgorithm = "crypto-algorithm"
	keyEncrypted       = "encrypted"
	keyCompressed      = "compressed"
	keyFECParity       = "fec-parity"
)

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Encode serializes the header as "key=value\n" lines.
func (h BackupHeader) Encode(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("%s=%s\n", keyHMACAlgorithm, h.HMACAlgorithm),
		fmt.Sprintf("%s=%s\n", keyCryptoAlgorithm, h.CryptoAlgorithm),
		fmt.Sprintf("%s=%s\n", keyEncrypted, boolString(h.Encrypted)),
		fmt.Sprintf("%s=%s\n", keyCompressed, boolString(h.Compressed)),
	}
	if h.FECParity > 0 {
		lines = append(lines, fmt.Sprintf("%s=%d\n", keyFECParity, h.FECParity))
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	return nil
}

// DecodeHeader parses the grammar from §6: "key=value\n"; a line with zero
// or two-or-more "=" signs is a CorruptHeader.
func DecodeHeader(r io.Reader) (BackupHeader, error) {
	var h BackupHeader
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "=")
		if len(parts) != 2 {
			return BackupHeader{}, fmt.Errorf("%w: malformed line %q", ErrCorruptHeader, line)
		}
		key, value := parts[0], parts[1]
		switch key {
		case keyHMACAlgorithm:
			h.HMACAlgorithm = value
		case keyCryptoAlgorithm:
			h.CryptoAlgorithm = value
		case keyEncrypted:
			h.Encrypted = isTruthy(value)
		case keyCompressed:
			h.Compressed = isTruthy(value)
		case keyFECParity:
			var n int
			if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
				h.FECParity = n
			}
		default:
			// unknown key, silently ignored (forward compatibility)
		}
	}
	if err := scanner.Err(); err != nil {
		return BackupHeader{}, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	return h, nil
}

// ParseAuthenticator implements the HMAC-file grammar from §6:
// "<anything>=<hex>\n" (with possible surrounding whitespace around the
// trailing token) — split on the first "=", strip whitespace, take the
// trailing token.
func ParseAuthenticator(line string) (string, error) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", fmt.Errorf("%w: no \"=\" in authenticator line %q", ErrCorruptHeader, line)
	}
	rest := strings.TrimSpace(line[idx+1:])
	if rest == "" {
		return "", fmt.Errorf("%w: empty authenticator in line %q", ErrCorruptHeader, line)
	}
	fields := strings.Fields(rest)
	token := fields[len(fields)-1]
	return token, nil
}
