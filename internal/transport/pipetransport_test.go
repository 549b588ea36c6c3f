package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPipeTransportWriteReadRoundTrip(t *testing.T) {
	stdout := bytes.NewReader([]byte("outer-archive-bytes"))
	pt := NewPipeTransport(stdout)

	done := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(pt.StdinReader())
		done <- b
	}()

	if _, err := pt.Write([]byte("demux-request")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pt.Close()

	got := <-done
	if string(got) != "demux-request" {
		t.Errorf("StdinReader saw %q, want %q", got, "demux-request")
	}

	outAll, err := io.ReadAll(pt.Stdout())
	if err != nil {
		t.Fatalf("reading Stdout: %v", err)
	}
	if string(outAll) != "outer-archive-bytes" {
		t.Errorf("Stdout = %q, want %q", outAll, "outer-archive-bytes")
	}
}

func TestPipeTransportWaitReturnsSetResult(t *testing.T) {
	pt := NewPipeTransport(bytes.NewReader(nil))
	pt.SetResult(2, errors.New("helper crashed"))

	code, err := pt.Wait()
	if code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
	if err == nil || err.Error() != "helper crashed" {
		t.Errorf("err = %v, want \"helper crashed\"", err)
	}
}
