// Command qvm-restore drives one Orchestrator.Restore (or -verify-only,
// Orchestrator.Verify) call from the shell: every VM present in the
// source archive is restored unless named on -exclude, with a
// conflicting template or netvm resolved via -default-template/
// -default-netvm/-none-netvm the same way the core's RestorePlan expects.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/orchestrator"
	"github.com/itinerarium/qubes-core-admin/internal/vminventory"
)

func main() {
	source := flag.String("source", "", "Source archive path (required)")
	destDir := flag.String("dest-dir", "/var/lib/qubes/appvms", "Destination root for restored VM files")
	inventoryPath := flag.String("inventory", "/var/lib/qubes/qubes.xml", "Path to the local VM inventory")
	exclude := flag.String("exclude", "", "Comma-separated VM names to skip")
	passphraseFile := flag.String("passphrase-file", "", "Read the passphrase from this file instead of prompting")
	useDefaultTemplate := flag.Bool("default-template", false, "Substitute the local default template for a missing one")
	useDefaultNetVM := flag.Bool("default-netvm", false, "Substitute the local default netvm for a missing one")
	useNoneNetVM := flag.Bool("none-netvm", false, "Restore with no netvm instead of substituting a default")
	verifyOnly := flag.Bool("verify-only", false, "Verify the archive's authenticity without extracting")
	expectedBytes := flag.Int64("expected-bytes", 0, "Expected total plaintext bytes, for the resource-budget check")
	vmCount := flag.Int("vm-count", 0, "Expected VM count, for the resource-budget check")
	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "qvm-restore: -source is required")
		os.Exit(1)
	}

	store, err := vminventory.LoadXMLStore(*inventoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-restore: loading inventory: %v\n", err)
		os.Exit(2)
	}
	existing, err := store.ListIncluded()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-restore: listing included vms: %v\n", err)
		os.Exit(2)
	}
	existingNames := make(map[string]bool, len(existing))
	for _, vm := range existing {
		existingNames[vm.Name] = true
	}

	excluded := make(map[string]bool)
	for _, name := range strings.Split(*exclude, ",") {
		if name = strings.TrimSpace(name); name != "" {
			excluded[name] = true
		}
	}

	vmNames, err := listArchiveVMs(*source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-restore: listing archive contents: %v\n", err)
		os.Exit(4)
	}

	plan := backuptypes.RestorePlan{
		Actions:           actionsFor(vmNames, existingNames, excluded),
		TemplateRemapping: map[string]string{},
		NetVMRemapping:    map[string]string{},
		Options: backuptypes.RestoreOptions{
			UseDefaultTemplate: *useDefaultTemplate,
			UseDefaultNetVM:    *useDefaultNetVM,
			UseNoneNetVM:       *useNoneNetVM,
			ExcludeList:        excludeSlice(excluded),
		},
		ExpectedTotalBytes: *expectedBytes,
		VMCount:            *vmCount,
	}

	passphrase, err := resolvePassphrase(*passphraseFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-restore: %v\n", err)
		os.Exit(3)
	}

	o := orchestrator.New(orchestrator.DefaultConfig())
	o.Inventory = store

	ctx := context.Background()
	if *verifyOnly {
		if err := o.Verify(ctx, *source, passphrase, plan); err != nil {
			fmt.Fprintf(os.Stderr, "qvm-restore: verification failed: %v\n", err)
			os.Exit(5)
		}
		fmt.Println("archive verified")
		return
	}

	if err := o.Restore(ctx, *source, *destDir, passphrase, plan); err != nil {
		fmt.Fprintf(os.Stderr, "qvm-restore: restore failed: %v\n", err)
		os.Exit(5)
	}
}

// listArchiveVMs shells out to tar -tf to read member names without
// running any restore logic, the same way the core itself only ever
// looks at tar's own listing rather than parsing the archive format
// by hand. Every first path segment that is not one of the fixed,
// non-VM members (the header pair, the inventory chunk, and every
// ".hmac" sidecar) names one candidate VM.
func listArchiveVMs(source string) ([]string, error) {
	out, err := exec.Command("tar", "-tf", source).Output()
	if err != nil {
		return nil, fmt.Errorf("running tar -tf: %w", err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ".hmac") {
			continue
		}
		if line == "backup-header" || strings.HasPrefix(line, "backup-header.fec") {
			continue
		}
		if strings.HasPrefix(line, "qubes.xml") {
			continue
		}
		idx := strings.Index(line, "/")
		if idx < 0 {
			continue
		}
		vm := line[:idx]
		if !seen[vm] {
			seen[vm] = true
			names = append(names, vm)
		}
	}
	return names, nil
}

// actionsFor marks every VM the archive carries as ActionRestore unless
// it was named on -exclude or already exists locally, mirroring the
// original qvm-restore's default "restore everything, skip conflicts"
// behavior (SPEC_FULL §C.3).
func actionsFor(vmNames []string, existingNames, excluded map[string]bool) map[string]backuptypes.VMAction {
	actions := make(map[string]backuptypes.VMAction, len(vmNames))
	for _, name := range vmNames {
		switch {
		case excluded[name]:
			actions[name] = backuptypes.ActionSkipExcluded
		case existingNames[name]:
			actions[name] = backuptypes.ActionSkipAlreadyExists
		default:
			actions[name] = backuptypes.ActionRestore
		}
	}
	return actions
}

func excludeSlice(excluded map[string]bool) []string {
	out := make([]string, 0, len(excluded))
	for name := range excluded {
		out = append(out, name)
	}
	return out
}

func resolvePassphrase(file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	fmt.Fprint(os.Stderr, "Enter backup passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}
