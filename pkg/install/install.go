// pkg/install/install.go
package install

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"

	"github.com/arc-language/reloc/internal/fsutil"
	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/pkg/core"
	"github.com/arc-language/reloc/pkg/nix"
	"github.com/arc-language/reloc/pkg/platform"
	"github.com/arc-language/reloc/pkg/registration"
)

// Step is a state of the installer
type Step int

const (
	StepStart Step = iota
	StepArchitectureCheck
	StepDirectoryCreation
	StepStoreCopy
	StepDatabaseImport
	StepProfileLink
	StepConfigWrite
	StepDone
)

var stepNames = [...]string{
	"start", "architecture-check", "directory-creation", "store-copy",
	"database-import", "profile-link", "config-write", "done",
}

func (s Step) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ImportFunc loads a registration into the store database using the
// nix-store binary at tool
type ImportFunc func(ctx context.Context, tool string, env []string, registration []byte) error

// Report summarises an installation
type Report struct {
	Prefix   string
	Arch     string
	Step     Step // last step completed
	Copied   int
	Skipped  int
	Failed   []core.ArtifactID
	Imported bool
	Profile  string // profile link target, empty when not linked
	Warnings []string
	Store    []core.ArtifactID // artifacts present in the store afterwards
}

func (r *Report) warn(ctx context.Context, msg string, kvs ...any) {
	r.Warnings = append(r.Warnings, msg)
	logger.WarnKV(ctx, msg, kvs...)
}

// Installer materialises a bundle under Prefix
type Installer struct {
	Prefix  string                 // destination prefix, defaults to the bundle's
	Machine func() (string, error) // running machine, defaults to platform.Machine
	User    func() (string, error) // invoking user name
	Import  ImportFunc             // defaults to running nix-store --load-db
}

// Install runs the installer state machine
func (in *Installer) Install(ctx context.Context, b *Bundle) (*Report, error) {
	prefix := in.Prefix
	if prefix == "" {
		prefix = b.Manifest.DestPrefix
	}
	ctx = logger.WithKV(ctx, "prefix", prefix)

	r := &Report{Prefix: prefix, Arch: b.Manifest.Arch, Step: StepStart}
	userName := in.userName(ctx, r)
	paths := PathsFor(prefix, userName)

	steps := []struct {
		step Step
		run  func(context.Context, *Bundle, Paths, *Report) error
	}{
		{StepArchitectureCheck, in.checkArchitecture},
		{StepDirectoryCreation, in.createDirectories},
		{StepStoreCopy, in.copyStore},
		{StepDatabaseImport, in.importDatabase},
		{StepProfileLink, in.linkProfile},
		{StepConfigWrite, in.writeConfig},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		logger.DebugKV(ctx, "install step", "step", s.step)
		if err := s.run(ctx, b, paths, r); err != nil {
			return r, fmt.Errorf("%s: %w", s.step, err)
		}
		r.Step = s.step
	}

	store, err := listStore(paths.StoreDir)
	if err != nil {
		return r, err
	}
	r.Store = store
	r.Step = StepDone

	logger.InfoKV(ctx, "install finished",
		"copied", r.Copied, "skipped", r.Skipped, "failed", len(r.Failed),
		"imported", r.Imported, "warnings", len(r.Warnings))
	return r, nil
}

func (in *Installer) userName(ctx context.Context, r *Report) string {
	lookup := in.User
	if lookup == nil {
		lookup = func() (string, error) {
			u, err := user.Current()
			if err != nil {
				return "", err
			}
			return u.Username, nil
		}
	}
	name, err := lookup()
	if err != nil || name == "" {
		r.warn(ctx, "cannot determine user, profile link skipped", "error", err)
		return ""
	}
	return name
}

func (in *Installer) checkArchitecture(ctx context.Context, b *Bundle, _ Paths, _ *Report) error {
	machine := in.Machine
	if machine == nil {
		machine = platform.Machine
	}
	raw, err := machine()
	if err != nil {
		return fmt.Errorf("detecting machine: %w", err)
	}
	running, err := platform.ParseArch(raw)
	if err != nil {
		return &core.Error{Op: "check architecture", Err: fmt.Errorf("%w: machine %q is not supported", core.ErrArchitectureMismatch, raw)}
	}
	want, err := platform.ParseArch(b.Manifest.Arch)
	if err != nil {
		return err
	}
	if running != want {
		return &core.Error{Op: "check architecture", Err: fmt.Errorf("%w: bundle targets %s, machine is %s", core.ErrArchitectureMismatch, want, running)}
	}
	return nil
}

func (in *Installer) createDirectories(_ context.Context, _ *Bundle, p Paths, _ *Report) error {
	for _, dir := range []string{
		p.StoreDir,
		filepath.Join(p.StateDir, "db"),
		filepath.Join(p.StateDir, "gcroots"),
		filepath.Join(p.StateDir, "profiles"),
		p.ConfDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// copyStore copies every registered artifact that is not yet present.
// Failures are recorded and skipped; a later run picks them up again.
func (in *Installer) copyStore(ctx context.Context, b *Bundle, p Paths, r *Report) error {
	for _, e := range b.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		dest := filepath.Join(p.StoreDir, string(e.ID))
		if _, err := os.Lstat(dest); err == nil {
			r.Skipped++
			continue
		}

		partial := filepath.Join(p.StoreDir, "."+string(e.ID)+".partial")
		os.RemoveAll(partial)

		err := fsutil.CopyTree(ctx, b.StorePath(e.ID), partial)
		if err == nil {
			err = os.Rename(partial, dest)
		}
		if err != nil {
			os.RemoveAll(partial)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Failed = append(r.Failed, e.ID)
			logger.WarnKV(ctx, "artifact copy failed", "artifact", e.ID, "error", err)
			continue
		}
		r.Copied++
	}

	if len(r.Failed) > 0 {
		r.warn(ctx, fmt.Sprintf("%d artifacts could not be copied; re-run the installer to retry", len(r.Failed)))
	}
	return nil
}

// importDatabase streams the registration into the store database,
// rendered for the store directory actually installed to
func (in *Installer) importDatabase(ctx context.Context, b *Bundle, p Paths, r *Report) error {
	tool := findNixStore(p.StoreDir, b.Entries)
	if tool == "" {
		r.warn(ctx, "nix-store not found in the installed store, database import skipped")
		return nil
	}

	var buf bytes.Buffer
	if err := registration.Write(&buf, p.StoreDir, b.Entries); err != nil {
		return err
	}

	imp := in.Import
	if imp == nil {
		imp = loadDB
	}
	if err := imp(ctx, tool, p.Env(), buf.Bytes()); err != nil {
		return fmt.Errorf("loading registration: %w", err)
	}
	r.Imported = true
	logger.InfoKV(ctx, "registration imported", "artifacts", len(b.Entries), "tool", tool)
	return nil
}

func findNixStore(storeDir string, entries []registration.Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		tool := filepath.Join(storeDir, string(entries[i].ID), "bin", "nix-store")
		if fi, err := os.Stat(tool); err == nil && fi.Mode().IsRegular() && fi.Mode()&0111 != 0 {
			return tool
		}
	}
	return ""
}

func loadDB(ctx context.Context, tool string, env []string, reg []byte) error {
	cmd := &nix.Command{Path: tool, Env: env, Stdin: bytes.NewReader(reg)}
	_, err := cmd.Run(ctx, "--load-db")
	return err
}

// linkProfile points the user's default profile at the first root
func (in *Installer) linkProfile(ctx context.Context, b *Bundle, p Paths, r *Report) error {
	if p.Profile == "" {
		return nil
	}
	if len(b.Manifest.Roots) == 0 {
		r.warn(ctx, "bundle has no roots, profile link skipped")
		return nil
	}

	target := filepath.Join(p.StoreDir, b.Manifest.Roots[0])
	if err := replaceSymlink(target, p.Profile); err != nil {
		r.warn(ctx, "profile link failed", "error", err)
		return nil
	}
	if err := replaceSymlink(p.Profile, filepath.Join(p.StateDir, "gcroots", "profile")); err != nil {
		r.warn(ctx, "gc root link failed", "error", err)
	}
	r.Profile = target
	return nil
}

func replaceSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return err
	}
	if cur, err := os.Readlink(link); err == nil && cur == target {
		return nil
	}
	return renameio.Symlink(target, link)
}

// writeConfig writes nix.conf and env.sh, replacing earlier versions
func (in *Installer) writeConfig(_ context.Context, _ *Bundle, p Paths, _ *Report) error {
	if err := renameio.WriteFile(filepath.Join(p.ConfDir, "nix.conf"), []byte(NixConf(p)), 0644); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(p.ConfDir, "env.sh"), []byte(EnvScript(p)), 0644)
}

func listStore(storeDir string) ([]core.ArtifactID, error) {
	entries, err := os.ReadDir(storeDir)
	if err != nil {
		return nil, err
	}
	var ids []core.ArtifactID
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, core.ArtifactID(e.Name()))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
