package digesttool

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// CipherStage wraps a long-running external cipher tool process
// (conventionally `openssl enc`) streaming encrypt or decrypt.
type CipherStage struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	stderr interface{ String() string }
}

// Cipher invokes the external cipher tool named by ToolPath (default
// "openssl").
type Cipher struct {
	ToolPath string
}

// NewCipher returns a Cipher using the system "openssl" binary.
func NewCipher() *Cipher {
	return &Cipher{ToolPath: "openssl"}
}

func (c *Cipher) toolPath() string {
	if c.ToolPath != "" {
		return c.ToolPath
	}
	return "openssl"
}

// Start launches `enc -e/-d -<algo> -pass pass:<passphrase>` per §6.
// decrypt selects -d instead of -e; algorithm is the crypto-algorithm
// header field (e.g. "aes-256-cbc").
func (c *Cipher) Start(algorithm, passphrase string, decrypt bool) (*CipherStage, error) {
	args := []string{"enc"}
	if decrypt {
		args = append(args, "-d")
	} else {
		args = append(args, "-e")
	}
	args = append(args, "-"+algorithm, "-pass", "pass:"+passphrase)

	cmd := exec.Command(c.toolPath(), args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cipher stage stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cipher stage stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &backuptypes.StageFailure{Stage: "crypto", Err: err}
	}
	return &CipherStage{cmd: cmd, Stdin: stdin, Stdout: stdout}, nil
}

// Wait waits for the process (it does not close Stdin; the caller closes
// it once all input has been written), reporting a non-zero exit as a
// StageFailure naming "crypto" — this is how a wrong restore passphrase surfaces (§8 scenario
// 3): the cipher tool itself rejects the padding/tag and exits non-zero.
func (s *CipherStage) Wait() error {
	if err := s.cmd.Wait(); err != nil {
		return &backuptypes.StageFailure{Stage: "crypto", Err: err}
	}
	return nil
}

// Kill terminates the stage best-effort.
func (s *CipherStage) Kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// Cmd exposes the underlying process so a pipeline.Runner can poll its
// exit status alongside sibling archive/compress stages.
func (s *CipherStage) Cmd() *exec.Cmd { return s.cmd }
