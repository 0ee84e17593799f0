package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Picker resolves ambiguous choices the engine cannot make on its own: which
// release asset to download and which archive member to install.
// Implementations prompt the user or apply a flag-supplied answer.
type Picker interface {
	PickAsset(pkg, version string, candidates []AssetChoice) (int, error)
	PickMember(pkg string, candidates []MemberChoice) (int, error)
}

// Engine orchestrates the package lifecycle: resolve, download, inspect,
// swap binaries atomically, persist the registry record.
type Engine struct {
	cfg        Config
	store      *Store
	resolver   *Resolver
	downloader *Downloader
	picker     Picker
}

// NewEngine creates an Engine. A nil resolver or downloader selects the
// defaults. picker may be nil, in which case ambiguous asset or member
// choices fail with an error naming the candidates.
func NewEngine(cfg Config, store *Store, resolver *Resolver, downloader *Downloader, picker Picker) *Engine {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	if downloader == nil {
		downloader = NewDownloader()
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		downloader: downloader,
		picker:     picker,
	}
}

// InstallOptions configures an installation.
type InstallOptions struct {
	Name   string      // explicit package name; empty uses the resolver's suggestion
	Force  bool        // replace an existing record instead of failing
	Format *FormatSpec // archive detection override
}

// InstallResult describes a completed installation.
type InstallResult struct {
	Name       string
	Version    string
	BinaryPath string
}

// Install resolves source, downloads and extracts the executable, places it
// in the bin directory, and records the package. Nothing on disk changes
// until the executable is fully extracted, so any failure up to that point
// leaves no trace.
func (e *Engine) Install(ctx context.Context, source string, opts InstallOptions) (*InstallResult, error) {
	asset, err := e.resolveAsset(ctx, source, opts.Name)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = asset.SuggestedName
	}
	if name == "" {
		return nil, &ResolutionError{Source: source, Reason: "cannot derive a package name from the URL; pass one explicitly"}
	}

	release, err := e.store.Begin(name)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := e.store.Get(name)
	switch {
	case err == nil && !opts.Force:
		return nil, &AlreadyInstalledError{Name: name}
	case err != nil && !IsNotInstalled(err):
		return nil, err
	}

	exe, version, err := e.fetchExecutable(ctx, name, asset, opts.Format)
	if err != nil {
		return nil, err
	}

	binaryPath := filepath.Join(e.cfg.BinDir, name)
	stagedPath, err := stageBinary(exe.Data, e.cfg.BinDir, name)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(stagedPath, binaryPath); err != nil {
		_ = os.Remove(stagedPath)
		return nil, fmt.Errorf("installing binary: %w", err)
	}

	// A forced reinstall starts the backup history over: drop the
	// previous record's backup file, and its binary when the bin
	// directory moved since it was installed.
	if existing != nil {
		if existing.HasBackup() {
			_ = os.Remove(existing.BackupPath)
		}
		if existing.BinaryPath != binaryPath {
			_ = os.Remove(existing.BinaryPath)
		}
	}

	rec := &Record{
		Name:       name,
		Source:     source,
		Version:    version,
		BinaryPath: binaryPath,
		AssetName:  asset.AssetName,
	}
	if err := e.store.Put(rec); err != nil {
		return nil, err
	}

	return &InstallResult{Name: name, Version: version, BinaryPath: binaryPath}, nil
}

// UpdateResult describes one package's update outcome.
type UpdateResult struct {
	Name       string
	OldVersion string
	NewVersion string
	UpToDate   bool // resolved version matched; nothing was changed
}

// Update re-resolves the package's source and, when a newer version exists,
// swaps the binary while demoting the current one into the backup slot.
func (e *Engine) Update(ctx context.Context, name string) (*UpdateResult, error) {
	release, err := e.store.Begin(name)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.update(ctx, name)
}

// update runs the update steps. The caller holds the operation slot for name.
func (e *Engine) update(ctx context.Context, name string) (*UpdateResult, error) {
	rec, err := e.store.Get(name)
	if err != nil {
		return nil, err
	}

	res, err := e.resolver.Resolve(ctx, rec.Source)
	if err != nil {
		return nil, err
	}

	asset := res.Asset
	if res.NeedsSelection() {
		if asset, err = e.reselectAsset(rec, res); err != nil {
			return nil, err
		}
	}

	// Release tags are comparable before downloading anything.
	if !asset.ContentAddressed && asset.Version == rec.Version {
		return &UpdateResult{Name: name, OldVersion: rec.Version, NewVersion: rec.Version, UpToDate: true}, nil
	}

	exe, version, err := e.fetchExecutable(ctx, name, asset, nil)
	if err != nil {
		return nil, err
	}

	// Direct URLs are comparable only by payload fingerprint.
	if version == rec.Version {
		return &UpdateResult{Name: name, OldVersion: rec.Version, NewVersion: rec.Version, UpToDate: true}, nil
	}

	oldVersion := rec.Version
	if asset.AssetName != "" {
		rec.AssetName = asset.AssetName
	}
	if err := e.swapBinary(rec, exe.Data, version); err != nil {
		return nil, err
	}

	return &UpdateResult{Name: name, OldVersion: oldVersion, NewVersion: version}, nil
}

// UpdateOutcome pairs one package's update result with its error for batch
// reporting.
type UpdateOutcome struct {
	Name   string
	Result *UpdateResult
	Err    error
}

// BatchUpdate updates the named packages concurrently, or every installed
// package when names is empty. Packages are independent: one failure never
// aborts the others. Outcomes come back sorted by name.
func (e *Engine) BatchUpdate(ctx context.Context, names []string) ([]UpdateOutcome, error) {
	if len(names) == 0 {
		records, err := e.store.List()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			names = append(names, rec.Name)
		}
	}

	outcomes := make([]UpdateOutcome, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			result, err := e.Update(ctx, name)
			outcomes[i] = UpdateOutcome{Name: name, Result: result, Err: err}
		}(i, name)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Name < outcomes[j].Name })
	return outcomes, nil
}

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	Name       string
	OldVersion string // version rolled back from
	NewVersion string // version now current, the former backup
}

// Rollback promotes the package's backup binary to current and clears the
// backup slot. Only one level of history exists, so a second consecutive
// rollback fails until another update creates a new backup.
func (e *Engine) Rollback(name string) (*RollbackResult, error) {
	release, err := e.store.Begin(name)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := e.store.Get(name)
	if err != nil {
		return nil, err
	}
	if !rec.HasBackup() {
		return nil, &NoBackupError{Name: name}
	}

	// Park the current binary so a failed promote can be undone.
	holdingPath := filepath.Join(e.cfg.DataDir, "."+rec.Name+".swap")
	if err := os.Rename(rec.BinaryPath, holdingPath); err != nil {
		return nil, fmt.Errorf("moving current binary aside: %w", err)
	}

	if err := os.Rename(rec.BackupPath, rec.BinaryPath); err != nil {
		if restoreErr := os.Rename(holdingPath, rec.BinaryPath); restoreErr != nil {
			return nil, &PartialUpdateError{
				Name:       name,
				BinaryPath: rec.BinaryPath,
				BackupPath: rec.BackupPath,
				Err:        fmt.Errorf("promoting backup: %v; restoring current binary: %w", err, restoreErr),
			}
		}
		return nil, fmt.Errorf("promoting backup: %w", err)
	}

	// The rolled-back-from binary is discarded: one backup level only.
	_ = os.Remove(holdingPath)

	oldVersion := rec.Version
	rec.Version = rec.BackupVersion
	rec.BackupPath = ""
	rec.BackupVersion = ""
	if err := e.store.Put(rec); err != nil {
		return nil, &PartialUpdateError{
			Name:       name,
			BinaryPath: rec.BinaryPath,
			Err:        fmt.Errorf("binary reverted but the registry record was not: %w", err),
		}
	}

	return &RollbackResult{Name: name, OldVersion: oldVersion, NewVersion: rec.Version}, nil
}

// Uninstall removes the package's binary and backup from disk and deletes
// its registry record. Already-missing files are not an error.
func (e *Engine) Uninstall(name string) error {
	release, err := e.store.Begin(name)
	if err != nil {
		return err
	}
	defer release()

	rec, err := e.store.Get(name)
	if err != nil {
		return err
	}

	if err := os.Remove(rec.BinaryPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing binary: %w", err)
	}
	if rec.HasBackup() {
		if err := os.Remove(rec.BackupPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing backup: %w", err)
		}
	}

	return e.store.Delete(name)
}

// Status returns the record for name, or a NotInstalledError.
func (e *Engine) Status(name string) (*Record, error) {
	return e.store.Get(name)
}

// List returns all installed package records sorted by name.
func (e *Engine) List() ([]*Record, error) {
	return e.store.List()
}

// resolveAsset resolves a source, consulting the picker when the release has
// several usable assets.
func (e *Engine) resolveAsset(ctx context.Context, source, explicitName string) (*ResolvedAsset, error) {
	res, err := e.resolver.Resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	if !res.NeedsSelection() {
		return res.Asset, nil
	}

	if e.picker == nil {
		return nil, &ResolutionError{
			Source: source,
			Reason: fmt.Sprintf("release %s has %d assets: %s", res.Version, len(res.Candidates), assetNames(res.Candidates)),
		}
	}

	pkg := explicitName
	if pkg == "" {
		pkg = res.SuggestedName
	}
	idx, err := e.picker.PickAsset(pkg, res.Version, res.Candidates)
	if err != nil {
		return nil, err
	}
	return res.Choose(idx)
}

// reselectAsset picks the release asset for an update. The asset chosen at
// install time is re-matched by name, tolerating embedded version strings;
// the picker only gets involved when no candidate matches.
func (e *Engine) reselectAsset(rec *Record, res *Resolution) (*ResolvedAsset, error) {
	if idx := MatchAsset(res.Candidates, rec.AssetName, rec.Version, res.Version); idx >= 0 {
		return res.Choose(idx)
	}

	if e.picker == nil {
		return nil, &ResolutionError{
			Source: rec.Source,
			Reason: fmt.Sprintf("release %s has %d assets and none matches %q: %s",
				res.Version, len(res.Candidates), rec.AssetName, assetNames(res.Candidates)),
		}
	}

	idx, err := e.picker.PickAsset(rec.Name, res.Version, res.Candidates)
	if err != nil {
		return nil, err
	}
	return res.Choose(idx)
}

// fetchExecutable downloads the asset and extracts the target executable,
// consulting the picker when the archive is ambiguous. For content-addressed
// assets the payload fingerprint becomes the version.
func (e *Engine) fetchExecutable(ctx context.Context, name string, asset *ResolvedAsset, override *FormatSpec) (*Executable, string, error) {
	dl, err := e.downloader.Download(ctx, asset.URL)
	if err != nil {
		return nil, "", err
	}

	version := asset.Version
	if asset.ContentAddressed {
		version = dl.Fingerprint()
	}

	filename := asset.Filename
	if filename == "" {
		filename = dl.Filename
	}

	result, err := Inspect(dl.Data, filename, name, override)
	if err != nil {
		return nil, "", err
	}
	if !result.NeedsSelection() {
		return result.Executable, version, nil
	}

	if e.picker == nil {
		return nil, "", fmt.Errorf("archive %s has %d candidate members: %s",
			filename, len(result.Candidates), memberNames(result.Candidates))
	}
	idx, err := e.picker.PickMember(name, result.Candidates)
	if err != nil {
		return nil, "", err
	}
	exe, err := result.Select(idx)
	if err != nil {
		return nil, "", err
	}
	return exe, version, nil
}

// swapBinary performs the destructive phase of an update: demote the current
// binary to the backup slot and promote the staged one. binary_path is never
// left absent, and the previous backup is overwritten only after the new
// binary is in place, so the backup slot stays usable if the swap dies.
func (e *Engine) swapBinary(rec *Record, data []byte, newVersion string) error {
	stagedPath, err := stageBinary(data, filepath.Dir(rec.BinaryPath), rec.Name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(e.cfg.DataDir, 0o755); err != nil {
		_ = os.Remove(stagedPath)
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Park the current binary. The existing backup stays untouched until
	// the new binary is live.
	holdingPath := filepath.Join(e.cfg.DataDir, "."+rec.Name+".swap")
	if err := os.Rename(rec.BinaryPath, holdingPath); err != nil {
		_ = os.Remove(stagedPath)
		return fmt.Errorf("moving current binary aside: %w", err)
	}

	if err := os.Rename(stagedPath, rec.BinaryPath); err != nil {
		_ = os.Remove(stagedPath)
		if restoreErr := os.Rename(holdingPath, rec.BinaryPath); restoreErr != nil {
			return &PartialUpdateError{
				Name:       rec.Name,
				BinaryPath: rec.BinaryPath,
				BackupPath: holdingPath,
				Err:        fmt.Errorf("installing new binary: %v; restoring current binary: %w", err, restoreErr),
			}
		}
		return fmt.Errorf("installing new binary: %w", err)
	}

	// The new binary is live; demote the parked one into the backup slot,
	// replacing any previous backup.
	backupPath := filepath.Join(e.cfg.DataDir, rec.Name)
	if err := os.Rename(holdingPath, backupPath); err != nil {
		return &PartialUpdateError{
			Name:       rec.Name,
			BinaryPath: rec.BinaryPath,
			BackupPath: holdingPath,
			Err:        fmt.Errorf("moving previous binary into the backup slot: %w", err),
		}
	}

	rec.BackupPath = backupPath
	rec.BackupVersion = rec.Version
	rec.Version = newVersion
	if err := e.store.Put(rec); err != nil {
		return &PartialUpdateError{
			Name:       rec.Name,
			BinaryPath: rec.BinaryPath,
			BackupPath: backupPath,
			Err:        fmt.Errorf("binary updated but the registry record was not: %w", err),
		}
	}
	return nil
}

// stageBinary writes data to a hidden temp file in dir with the executable
// bit set, ready to be renamed into place.
func stageBinary(data []byte, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("staging binary: %w", err)
	}
	tmpPath := tmp.Name()

	_, werr := tmp.Write(data)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmpPath, 0o755)
	}
	if werr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("staging binary: %w", werr)
	}
	return tmpPath, nil
}

func assetNames(candidates []AssetChoice) string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func memberNames(candidates []MemberChoice) string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
