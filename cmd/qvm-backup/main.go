// Command qvm-backup drives one Orchestrator.Backup call from the shell:
// it builds a BackupPlan from the VMs marked Included in the local
// inventory minus any VM named on -exclude, streams the resulting archive to
// -dest (a file path or "-" for stdout), and prompts for a passphrase on
// the controlling terminal when -passphrase-file is not given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/itinerarium/qubes-core-admin/internal/backuptypes"
	"github.com/itinerarium/qubes-core-admin/internal/orchestrator"
	"github.com/itinerarium/qubes-core-admin/internal/vminventory"
)

func main() {
	dest := flag.String("dest", "", "Destination path for the archive (required; \"-\" for stdout)")
	vmDir := flag.String("vm-dir", "/var/lib/qubes/appvms", "Root directory containing one subdirectory per VM")
	inventoryPath := flag.String("inventory", "/var/lib/qubes/qubes.xml", "Path to the local VM inventory")
	exclude := flag.String("exclude", "", "Comma-separated VM names to exclude")
	encrypt := flag.Bool("encrypt", true, "Encrypt the archive (mutually exclusive with -compress)")
	compress := flag.Bool("compress", false, "Compress the archive instead of encrypting it")
	hmacAlgo := flag.String("hmac-algorithm", "sha512", "HMAC digest algorithm")
	cryptoAlgo := flag.String("crypto-algorithm", "aes-256-cbc", "openssl enc cipher name")
	passphraseFile := flag.String("passphrase-file", "", "Read the passphrase from this file instead of prompting")
	fecParity := flag.Int("header-fec-parity", 0, "Reed-Solomon parity shards protecting the header pair")
	flag.Parse()

	if *dest == "" {
		fmt.Fprintln(os.Stderr, "qvm-backup: -dest is required")
		os.Exit(1)
	}
	if *encrypt && *compress {
		fmt.Fprintln(os.Stderr, "qvm-backup: -encrypt and -compress are mutually exclusive")
		os.Exit(1)
	}

	store, err := vminventory.LoadXMLStore(*inventoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-backup: loading inventory: %v\n", err)
		os.Exit(2)
	}
	included, err := store.ListIncluded()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-backup: listing included vms: %v\n", err)
		os.Exit(2)
	}

	excluded := make(map[string]bool)
	for _, name := range strings.Split(*exclude, ",") {
		if name = strings.TrimSpace(name); name != "" {
			excluded[name] = true
		}
	}

	var entries []backuptypes.BackupEntry
	for _, vm := range included {
		if excluded[vm.Name] {
			continue
		}
		dir := filepath.Join(*vmDir, vm.Name)
		if _, err := os.Stat(dir); err != nil {
			fmt.Fprintf(os.Stderr, "qvm-backup: skipping %s: %v\n", vm.Name, err)
			continue
		}
		entries = append(entries, backuptypes.BackupEntry{
			SourcePath:    dir,
			ArchiveSubdir: vm.Name + "/",
			SizeBytes:     dirSize(dir),
		})
	}

	passphrase, err := resolvePassphrase(*passphraseFile, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-backup: %v\n", err)
		os.Exit(3)
	}

	plan := backuptypes.BackupPlan{
		Entries:          entries,
		Encrypted:        *encrypt,
		Compressed:       *compress,
		HMACAlgorithm:    *hmacAlgo,
		CryptoAlgorithm:  *cryptoAlgo,
		Passphrase:       passphrase,
		InventoryXMLPath: *inventoryPath,
	}

	out, closeOut, err := openDest(*dest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qvm-backup: %v\n", err)
		os.Exit(4)
	}
	defer closeOut()

	cfg := orchestrator.DefaultConfig()
	cfg.HeaderFECParity = *fecParity
	o := orchestrator.New(cfg)

	if err := o.Backup(context.Background(), plan, out); err != nil {
		fmt.Fprintf(os.Stderr, "qvm-backup: backup failed: %v\n", err)
		os.Exit(5)
	}
}

func openDest(dest string) (*os.File, func(), error) {
	if dest == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", dest, err)
	}
	return f, func() { f.Close() }, nil
}

func dirSize(root string) int64 {
	var total int64
	filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// resolvePassphrase reads the passphrase from file when given, otherwise
// prompts on the controlling terminal (confirming once, on the backup
// side, matching keygen's generate prompt).
func resolvePassphrase(file string, confirm bool) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}

	fmt.Fprint(os.Stderr, "Enter backup passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}
