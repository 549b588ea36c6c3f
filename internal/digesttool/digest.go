// Package digesttool wraps the external digest and cipher tools the core
// invokes by name (§6). It deliberately contains no cryptographic
// primitives of its own: the whole point of this layer, mirrored from the
// teacher's internal/crypto package but rewired from in-process AES-GCM to
// a subprocess pipeline, is that hashing and encryption happen in a
// well-known external binary.
package digesttool

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// DefaultAlgorithms enumerates the HMAC digest algorithms the external
// digest tool supports, in the order the header auto-detect loop (§4.D)
// tries them after the caller's own default.
var DefaultAlgorithms = []string{"sha512", "sha256", "sha384", "sha1", "md5"}

// Digester invokes an external digest tool (conventionally `openssl dgst`)
// to compute a keyed HMAC over a byte stream.
type Digester struct {
	// ToolPath is the executable invoked; defaults to "openssl".
	ToolPath string
}

// NewDigester returns a Digester using the system "openssl" binary.
func NewDigester() *Digester {
	return &Digester{ToolPath: "openssl"}
}

func (d *Digester) toolPath() string {
	if d.ToolPath != "" {
		return d.ToolPath
	}
	return "openssl"
}

// commandArgs builds `dgst -<algo> -hmac <passphrase>` the way the
// original shells out to openssl.
func (d *Digester) commandArgs(algorithm, passphrase string) []string {
	return []string{"dgst", "-" + algorithm, "-hmac", passphrase}
}

// SumReader streams r through the digest tool and returns the parsed hex
// authenticator (§3 "Authenticator"): the single token following the
// first "=" on the line the tool emits.
func (d *Digester) SumReader(algorithm, passphrase string, r io.Reader) (string, error) {
	cmd := exec.Command(d.toolPath(), d.commandArgs(algorithm, passphrase)...)
	cmd.Stdin = r
	var out bytes.Buffer
	cmd.Stdout = &out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &backuptypes.StageFailure{Stage: "hmac", Err: fmt.Errorf("%v: %s", err, stderr.String())}
	}
	line := strings.TrimSpace(out.String())
	return backuptypes.ParseAuthenticator(line)
}

// Stage starts the digest tool as a long-lived process: bytes written to
// the returned io.WriteCloser are fed to its stdin; closing it and
// calling Finish reads the single resulting authenticator. Used by
// ChunkWriter, which streams a chunk's bytes through the tool as they are
// written to disk rather than re-reading the file afterward.
type Stage struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// StartStage launches the digest tool and returns a Stage ready to accept
// stdin writes.
func (d *Digester) StartStage(algorithm, passphrase string) (*Stage, error) {
	cmd := exec.Command(d.toolPath(), d.commandArgs(algorithm, passphrase)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("hmac stage stdin pipe: %w", err)
	}
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Start(); err != nil {
		return nil, &backuptypes.StageFailure{Stage: "hmac", Err: err}
	}
	return &Stage{cmd: cmd, stdin: stdin, stdout: &out, stderr: &errBuf}, nil
}

// Write feeds bytes to the digest tool's stdin.
func (s *Stage) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Finish closes stdin, waits for the tool to exit, and parses the
// resulting authenticator. A non-zero exit is reported as StageFailure
// naming "hmac", per §4.B.
func (s *Stage) Finish() (string, error) {
	if err := s.stdin.Close(); err != nil {
		return "", fmt.Errorf("closing hmac stage stdin: %w", err)
	}
	if err := s.cmd.Wait(); err != nil {
		return "", &backuptypes.StageFailure{Stage: "hmac", Err: fmt.Errorf("%v: %s", err, s.stderr.String())}
	}
	line := strings.TrimSpace(s.stdout.String())
	return backuptypes.ParseAuthenticator(line)
}

// Kill terminates the stage best-effort, used on the abort path so no
// child process outlives the orchestrator (§5 "Cancellation").
func (s *Stage) Kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}
