package archive

import (
	"io"
	"os/exec"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
)

// Pack invokes `tar -cO --posix <member>` with cwd set to dir, writing the
// resulting single-member archive to out (§4.G: the send worker packs one
// finished chunk or hmac file at a time before handing it to the
// transport). Exit code 1 is a non-fatal tar warning and is not reported
// as an error; exit code >= 2 surfaces as TransportError, matching the
// distilled implementation's "handle only exit code 2 or greater" check.
func Pack(dir, member string, out io.Writer) error {
	cmd := exec.Command(ToolPath, "-cO", "--posix", "-C", dir, member)
	cmd.Stdout = out
	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if ok && exitErr.ExitCode() == 1 {
			return nil
		}
		return &backuptypes.TransportError{Err: err}
	}
	return nil
}
