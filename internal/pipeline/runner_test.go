package pipeline

import (
	"bytes"
	"os/exec"
	"strings"
	"testing"
)

func waitStage(t *testing.T, s *Stage) {
	t.Helper()
	if err := s.Cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			t.Fatalf("unexpected wait error: %v", err)
		}
	}
}

func TestSuperviseForwardsAndTees(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start /bin/true: %v", err)
	}
	stage := &Stage{Name: "producer", Cmd: cmd}
	waitStage(t, stage)

	r := NewRunner(stage)
	var out, tee bytes.Buffer
	in := strings.NewReader("hello pipeline")

	if err := r.Supervise(in, &out, &tee); err != nil {
		t.Fatalf("Supervise failed: %v", err)
	}
	if out.String() != "hello pipeline" {
		t.Errorf("out = %q", out.String())
	}
	if tee.String() != "hello pipeline" {
		t.Errorf("tee = %q", tee.String())
	}
}

func TestSuperviseReturnsStageFailureOnNonZeroExit(t *testing.T) {
	cmd := exec.Command("false")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start /bin/false: %v", err)
	}
	stage := &Stage{Name: "victim", Cmd: cmd}
	waitStage(t, stage)

	r := NewRunner(stage)
	var out bytes.Buffer
	err := r.Supervise(strings.NewReader("data"), &out, nil)
	if err == nil {
		t.Fatal("expected StageFailure")
	}
	if !strings.Contains(err.Error(), "victim") {
		t.Errorf("expected error naming stage 'victim', got %v", err)
	}
}

func TestSuperviseIgnoresVMHelperExit(t *testing.T) {
	producer := exec.Command("true")
	if err := producer.Start(); err != nil {
		t.Skipf("cannot start /bin/true: %v", err)
	}
	waitStage(t, &Stage{Cmd: producer})

	helper := exec.Command("false")
	if err := helper.Start(); err != nil {
		t.Skipf("cannot start /bin/false: %v", err)
	}
	helperStage := &Stage{Name: "vm-helper", Cmd: helper}
	waitStage(t, helperStage)

	r := NewRunner(&Stage{Name: "producer", Cmd: producer}, helperStage)
	r.VMHelperIndex = 1

	var out bytes.Buffer
	if err := r.Supervise(strings.NewReader("x"), &out, nil); err != nil {
		t.Errorf("expected Ok despite failed VM helper, got %v", err)
	}
}
