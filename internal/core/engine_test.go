package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeForge serves a mutable latest release plus its asset payloads, so
// tests can install, change the release, and update against the same URLs.
type fakeForge struct {
	mu     sync.Mutex
	rel    Release
	assets map[string][]byte
	srv    *httptest.Server
}

func newFakeForge(t *testing.T) *fakeForge {
	t.Helper()
	f := &fakeForge{assets: map[string][]byte{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/", f.handleRelease)
	mux.HandleFunc("/assets/", f.handleAsset)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// setRelease replaces the latest release and its asset payloads. An empty
// tag leaves the forge with no release, so repo lookups 404.
func (f *fakeForge) setRelease(tag string, assets map[string][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.assets = assets
	f.rel = Release{TagName: tag}

	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f.rel.Assets = append(f.rel.Assets, Asset{
			Name:               name,
			BrowserDownloadURL: f.srv.URL + "/assets/" + name,
			Size:               int64(len(assets[name])),
		})
	}
}

func (f *fakeForge) handleRelease(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rel.TagName == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.rel)
}

func (f *fakeForge) handleAsset(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	data, ok := f.assets[strings.TrimPrefix(r.URL.Path, "/assets/")]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

// assetURL returns a direct download URL for a named payload.
func (f *fakeForge) assetURL(name string) string {
	return f.srv.URL + "/assets/" + name
}

// funcPicker implements Picker with optional callbacks; a nil callback fails
// the operation so tests catch unexpected prompts.
type funcPicker struct {
	asset  func(pkg, version string, candidates []AssetChoice) (int, error)
	member func(pkg string, candidates []MemberChoice) (int, error)
}

func (p *funcPicker) PickAsset(pkg, version string, candidates []AssetChoice) (int, error) {
	if p.asset == nil {
		return -1, errors.New("unexpected asset prompt")
	}
	return p.asset(pkg, version, candidates)
}

func (p *funcPicker) PickMember(pkg string, candidates []MemberChoice) (int, error) {
	if p.member == nil {
		return -1, errors.New("unexpected member prompt")
	}
	return p.member(pkg, candidates)
}

func newTestEngine(t *testing.T, forge *fakeForge, picker Picker) (*Engine, Config) {
	t.Helper()

	base := t.TempDir()
	cfg := Config{
		RegistryPath: filepath.Join(base, "config", "magpie.yaml"),
		BinDir:       filepath.Join(base, "bin"),
		DataDir:      filepath.Join(base, "data"),
	}

	var resolver *Resolver
	if forge != nil {
		resolver = NewResolver(NewGitHubClient(forge.srv.URL, ""))
	}

	downloader := NewDownloaderWith(time.Minute, 3)
	downloader.backoff = time.Millisecond

	return NewEngine(cfg, NewStore(cfg.RegistryPath), resolver, downloader, picker), cfg
}

func readBinary(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestEngine_InstallFromRelease(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello-v1.0.0-linux.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	result, err := eng.Install(context.Background(), "acme/hello", InstallOptions{})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if result.Name != "hello" {
		t.Errorf("Name = %q, want hello", result.Name)
	}
	if result.Version != "v1.0.0" {
		t.Errorf("Version = %q, want v1.0.0", result.Version)
	}
	if result.BinaryPath != filepath.Join(cfg.BinDir, "hello") {
		t.Errorf("BinaryPath = %q", result.BinaryPath)
	}

	info, err := os.Stat(result.BinaryPath)
	if err != nil {
		t.Fatalf("installed binary missing: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Error("installed binary is not executable")
	}
	if got := readBinary(t, result.BinaryPath); got != "hello v1" {
		t.Errorf("binary content = %q", got)
	}

	rec, err := eng.Status("hello")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if rec.Source != "acme/hello" {
		t.Errorf("Source = %q", rec.Source)
	}
	if rec.AssetName != "hello-v1.0.0-linux.tar.gz" {
		t.Errorf("AssetName = %q", rec.AssetName)
	}
	if rec.HasBackup() {
		t.Error("fresh install must not have a backup")
	}
}

func TestEngine_InstallDirectURL(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("", map[string][]byte{"hello": []byte("#!/bin/sh\necho hi\n")})
	eng, _ := newTestEngine(t, forge, nil)

	result, err := eng.Install(context.Background(), forge.assetURL("hello"), InstallOptions{})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if result.Name != "hello" {
		t.Errorf("Name = %q, want hello", result.Name)
	}
	if !strings.HasPrefix(result.Version, "sha256:") {
		t.Errorf("Version = %q, want a sha256 fingerprint", result.Version)
	}
	if got := readBinary(t, result.BinaryPath); got != "#!/bin/sh\necho hi\n" {
		t.Errorf("binary content = %q", got)
	}
}

func TestEngine_InstallExplicitName(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("", map[string][]byte{"hugo_0.125.4_linux.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hugo", mode: 0o755, data: "hugo"}))})
	eng, cfg := newTestEngine(t, forge, nil)

	result, err := eng.Install(context.Background(), forge.assetURL("hugo_0.125.4_linux.tar.gz"), InstallOptions{Name: "hugo"})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if result.BinaryPath != filepath.Join(cfg.BinDir, "hugo") {
		t.Errorf("BinaryPath = %q, want bin/hugo", result.BinaryPath)
	}
}

func TestEngine_InstallNoDerivableName(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)

	_, err := eng.Install(context.Background(), "https://example.com/", InstallOptions{})
	if err == nil {
		t.Fatal("Install() should fail when no name can be derived")
	}
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Errorf("error = %v, want ResolutionError", err)
	}
}

func TestEngine_InstallAlreadyInstalled(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"tool.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "v1"})),
	})
	eng, _ := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/tool", InstallOptions{}); err != nil {
		t.Fatalf("first Install() error: %v", err)
	}

	_, err := eng.Install(context.Background(), "acme/tool", InstallOptions{})
	if !IsAlreadyInstalled(err) {
		t.Fatalf("second Install() = %v, want AlreadyInstalledError", err)
	}

	// Force replaces the record and starts history over.
	forge.setRelease("v2.0.0", map[string][]byte{
		"tool.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "v2"})),
	})
	result, err := eng.Install(context.Background(), "acme/tool", InstallOptions{Force: true})
	if err != nil {
		t.Fatalf("forced Install() error: %v", err)
	}
	if result.Version != "v2.0.0" {
		t.Errorf("Version = %q, want v2.0.0", result.Version)
	}
	rec, err := eng.Status("tool")
	if err != nil {
		t.Fatal(err)
	}
	if rec.HasBackup() {
		t.Error("forced reinstall must not carry a backup")
	}
}

func TestEngine_InstallAmbiguousAssetsWithoutPicker(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"tool-linux.tar.gz":  gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "l"})),
		"tool-darwin.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "d"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	_, err := eng.Install(context.Background(), "acme/tool", InstallOptions{})
	if err == nil {
		t.Fatal("Install() should fail without a picker for a multi-asset release")
	}
	if !strings.Contains(err.Error(), "tool-linux.tar.gz") {
		t.Errorf("error should list candidates, got: %v", err)
	}

	// Nothing may have been touched.
	if _, err := eng.Status("tool"); !IsNotInstalled(err) {
		t.Errorf("Status() = %v, want NotInstalledError", err)
	}
	if entries, _ := os.ReadDir(cfg.BinDir); len(entries) != 0 {
		t.Errorf("bin dir not empty after failed install: %v", entries)
	}
}

func TestEngine_InstallPickerChoosesAssetAndMember(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		// Sorted order: tool-darwin.zip, tool-linux.zip.
		"tool-darwin.zip": makeZip(t, archiveEntry{name: "tool", mode: 0o644, data: "darwin"}),
		"tool-linux.zip": makeZip(t,
			archiveEntry{name: "bin-a", mode: 0o644, data: "aaa"},
			archiveEntry{name: "bin-b", mode: 0o644, data: "bbb"},
			archiveEntry{name: "bin-c", mode: 0o644, data: "ccc"},
		),
	})

	picker := &funcPicker{
		asset: func(pkg, version string, candidates []AssetChoice) (int, error) {
			if pkg != "tool" || version != "v1.0.0" {
				t.Errorf("PickAsset(%q, %q)", pkg, version)
			}
			for i, c := range candidates {
				if c.Name == "tool-linux.zip" {
					return i, nil
				}
			}
			return -1, errors.New("linux asset not offered")
		},
		member: func(pkg string, candidates []MemberChoice) (int, error) {
			if len(candidates) != 3 {
				t.Errorf("PickMember got %d candidates, want 3", len(candidates))
			}
			return 2, nil
		},
	}
	eng, _ := newTestEngine(t, forge, picker)

	result, err := eng.Install(context.Background(), "acme/tool", InstallOptions{})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if got := readBinary(t, result.BinaryPath); got != "ccc" {
		t.Errorf("binary content = %q, want ccc (member 3)", got)
	}

	rec, err := eng.Status("tool")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AssetName != "tool-linux.zip" {
		t.Errorf("AssetName = %q, want tool-linux.zip", rec.AssetName)
	}
}

func TestEngine_InstallLeavesNoTraceOnBadArchive(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"tool.tar.gz": []byte("not actually gzip"),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	_, err := eng.Install(context.Background(), "acme/tool", InstallOptions{})
	var ufe *UnsupportedFormatError
	if !errors.As(err, &ufe) {
		t.Fatalf("Install() = %v, want UnsupportedFormatError", err)
	}

	if _, err := eng.Status("tool"); !IsNotInstalled(err) {
		t.Errorf("Status() = %v, want NotInstalledError", err)
	}
	for _, dir := range []string{cfg.BinDir, cfg.DataDir} {
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("%s not empty after failed install", dir)
		}
	}
}

func TestEngine_UpdateSwapsAndBacksUp(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	forge.setRelease("v1.1.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v2"})),
	})

	result, err := eng.Update(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if result.UpToDate {
		t.Fatal("Update() reported up to date with a new release")
	}
	if result.OldVersion != "v1.0.0" || result.NewVersion != "v1.1.0" {
		t.Errorf("versions = %q -> %q", result.OldVersion, result.NewVersion)
	}

	rec, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != "v1.1.0" {
		t.Errorf("Version = %q, want v1.1.0", rec.Version)
	}
	if !rec.HasBackup() {
		t.Fatal("update must create a backup")
	}
	if rec.BackupVersion != "v1.0.0" {
		t.Errorf("BackupVersion = %q, want v1.0.0", rec.BackupVersion)
	}
	if want := filepath.Join(cfg.DataDir, "hello"); rec.BackupPath != want {
		t.Errorf("BackupPath = %q, want %q", rec.BackupPath, want)
	}

	if got := readBinary(t, rec.BinaryPath); got != "hello v2" {
		t.Errorf("binary = %q, want hello v2", got)
	}
	if got := readBinary(t, rec.BackupPath); got != "hello v1" {
		t.Errorf("backup = %q, want hello v1", got)
	}
}

func TestEngine_UpdateUpToDate(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, _ := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	before, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}

	result, err := eng.Update(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if !result.UpToDate {
		t.Error("Update() should report up to date")
	}

	after, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}
	if *after != *before {
		t.Errorf("record changed by a no-op update:\nbefore %+v\nafter  %+v", before, after)
	}
	if after.HasBackup() {
		t.Error("no-op update must not create a backup")
	}
	if got := readBinary(t, after.BinaryPath); got != "hello v1" {
		t.Errorf("binary = %q", got)
	}
}

func TestEngine_UpdateDirectByFingerprint(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("", map[string][]byte{"tool": []byte("content v1")})
	eng, _ := newTestEngine(t, forge, nil)

	installed, err := eng.Install(context.Background(), forge.assetURL("tool"), InstallOptions{})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	// Same bytes behind the URL: downloading happens, nothing changes.
	result, err := eng.Update(context.Background(), "tool")
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if !result.UpToDate {
		t.Error("identical payload should be up to date")
	}

	// New bytes behind the URL: fingerprint changes, swap happens.
	forge.setRelease("", map[string][]byte{"tool": []byte("content v2")})
	result, err = eng.Update(context.Background(), "tool")
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if result.UpToDate {
		t.Fatal("changed payload should update")
	}
	if result.OldVersion != installed.Version {
		t.Errorf("OldVersion = %q, want %q", result.OldVersion, installed.Version)
	}

	rec, err := eng.Status("tool")
	if err != nil {
		t.Fatal(err)
	}
	if got := readBinary(t, rec.BinaryPath); got != "content v2" {
		t.Errorf("binary = %q", got)
	}
	if got := readBinary(t, rec.BackupPath); got != "content v1" {
		t.Errorf("backup = %q", got)
	}
}

func TestEngine_UpdateRematchesAssetWithoutPrompt(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"tool-1.0.0-darwin.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "darwin v1"})),
		"tool-1.0.0-linux.tar.gz":  gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "linux v1"})),
	})

	var prompts int
	picker := &funcPicker{
		asset: func(pkg, version string, candidates []AssetChoice) (int, error) {
			prompts++
			for i, c := range candidates {
				if strings.Contains(c.Name, "linux") {
					return i, nil
				}
			}
			return -1, errors.New("no linux asset")
		},
	}
	eng, _ := newTestEngine(t, forge, picker)

	if _, err := eng.Install(context.Background(), "acme/tool", InstallOptions{}); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if prompts != 1 {
		t.Fatalf("install prompted %d times, want 1", prompts)
	}

	forge.setRelease("v2.0.0", map[string][]byte{
		"tool-2.0.0-darwin.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "darwin v2"})),
		"tool-2.0.0-linux.tar.gz":  gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "linux v2"})),
	})

	result, err := eng.Update(context.Background(), "tool")
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if result.NewVersion != "v2.0.0" {
		t.Errorf("NewVersion = %q", result.NewVersion)
	}
	if prompts != 1 {
		t.Errorf("update prompted again (%d prompts total); the stored asset name should re-match", prompts)
	}

	rec, err := eng.Status("tool")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AssetName != "tool-2.0.0-linux.tar.gz" {
		t.Errorf("AssetName = %q, want tool-2.0.0-linux.tar.gz", rec.AssetName)
	}
	if got := readBinary(t, rec.BinaryPath); got != "linux v2" {
		t.Errorf("binary = %q", got)
	}
}

func TestEngine_RollbackRestoresPrevious(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	forge.setRelease("v1.1.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v2"})),
	})
	if _, err := eng.Update(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	result, err := eng.Rollback("hello")
	if err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if result.OldVersion != "v1.1.0" || result.NewVersion != "v1.0.0" {
		t.Errorf("rollback versions = %q -> %q", result.OldVersion, result.NewVersion)
	}

	rec, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != "v1.0.0" {
		t.Errorf("Version = %q, want v1.0.0", rec.Version)
	}
	if rec.HasBackup() {
		t.Error("backup slot must be cleared after rollback")
	}
	if got := readBinary(t, rec.BinaryPath); got != "hello v1" {
		t.Errorf("binary = %q, want hello v1", got)
	}

	// One backup level only: a second rollback has nothing to revert to.
	if _, err := eng.Rollback("hello"); !IsNoBackup(err) {
		t.Errorf("second Rollback() = %v, want NoBackupError", err)
	}

	// The discarded binary and holding file are gone from the data dir.
	entries, _ := os.ReadDir(cfg.DataDir)
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("data dir not empty after rollback: %v", names)
	}
}

func TestEngine_RollbackWithoutBackup(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, _ := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Rollback("hello"); !IsNoBackup(err) {
		t.Errorf("Rollback() = %v, want NoBackupError", err)
	}
	if _, err := eng.Rollback("ghost"); !IsNotInstalled(err) {
		t.Errorf("Rollback(ghost) = %v, want NotInstalledError", err)
	}
}

func TestEngine_Uninstall(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	forge.setRelease("v1.1.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v2"})),
	})
	if _, err := eng.Update(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	if err := eng.Uninstall("hello"); err != nil {
		t.Fatalf("Uninstall() error: %v", err)
	}

	if _, err := eng.Status("hello"); !IsNotInstalled(err) {
		t.Errorf("Status() = %v, want NotInstalledError", err)
	}
	for _, dir := range []string{cfg.BinDir, cfg.DataDir} {
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("%s not empty after uninstall", dir)
		}
	}

	if err := eng.Uninstall("hello"); !IsNotInstalled(err) {
		t.Errorf("second Uninstall() = %v, want NotInstalledError", err)
	}
}

func TestEngine_BatchUpdateIsolatesFailures(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("", map[string][]byte{
		"alpha": []byte("alpha v1"),
		"beta":  []byte("beta v1"),
		"gamma": []byte("gamma v1"),
	})
	eng, _ := newTestEngine(t, forge, nil)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := eng.Install(context.Background(), forge.assetURL(name), InstallOptions{}); err != nil {
			t.Fatalf("Install(%s) error: %v", name, err)
		}
	}
	betaBefore, err := eng.Status("beta")
	if err != nil {
		t.Fatal(err)
	}

	// alpha and gamma change; beta's URL starts failing.
	forge.setRelease("", map[string][]byte{
		"alpha": []byte("alpha v2"),
		"gamma": []byte("gamma v2"),
	})

	outcomes, err := eng.BatchUpdate(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchUpdate() error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}

	// Sorted by name: alpha, beta, gamma.
	if outcomes[0].Name != "alpha" || outcomes[0].Err != nil || outcomes[0].Result.UpToDate {
		t.Errorf("alpha outcome = %+v", outcomes[0])
	}
	if outcomes[1].Name != "beta" || outcomes[1].Err == nil {
		t.Errorf("beta outcome = %+v, want error", outcomes[1])
	}
	if outcomes[2].Name != "gamma" || outcomes[2].Err != nil || outcomes[2].Result.UpToDate {
		t.Errorf("gamma outcome = %+v", outcomes[2])
	}

	// beta is untouched by its failed update.
	betaAfter, err := eng.Status("beta")
	if err != nil {
		t.Fatal(err)
	}
	if *betaAfter != *betaBefore {
		t.Errorf("failed update changed beta's record:\nbefore %+v\nafter  %+v", betaBefore, betaAfter)
	}
	if got := readBinary(t, betaAfter.BinaryPath); got != "beta v1" {
		t.Errorf("beta binary = %q, want beta v1", got)
	}

	// The registry survived three concurrent writers.
	records, err := eng.List()
	if err != nil {
		t.Fatalf("List() after batch error: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("List() returned %d records, want 3", len(records))
	}
}

func TestEngine_UpdateFailsCleanlyWhenDataDirUnusable(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	// A regular file where the data directory should be makes the swap
	// fail before anything destructive happens.
	if err := os.WriteFile(cfg.DataDir, []byte("in the way"), 0o644); err != nil {
		t.Fatal(err)
	}
	forge.setRelease("v1.1.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v2"})),
	})

	_, err := eng.Update(context.Background(), "hello")
	if err == nil {
		t.Fatal("Update() should fail when the data directory cannot be created")
	}
	if IsPartialUpdate(err) {
		t.Errorf("Update() = %v; a failure before the swap must not report a partial update", err)
	}

	// The installed binary, its record, and the bin dir are untouched;
	// the staged temp file was cleaned up.
	rec, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != "v1.0.0" || rec.HasBackup() {
		t.Errorf("record changed by a failed update: %+v", rec)
	}
	if got := readBinary(t, rec.BinaryPath); got != "hello v1" {
		t.Errorf("binary = %q, want hello v1", got)
	}
	entries, err := os.ReadDir(cfg.BinDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "hello" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("bin dir = %v, want only the installed binary", names)
	}
}

func TestEngine_UpdateSurfacesPartialUpdate(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	// A non-empty directory squatting on the backup slot makes the
	// demote rename fail after the new binary is already live.
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "hello", "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}
	forge.setRelease("v1.1.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v2"})),
	})

	_, err := eng.Update(context.Background(), "hello")
	var pue *PartialUpdateError
	if !errors.As(err, &pue) {
		t.Fatalf("Update() = %v, want PartialUpdateError", err)
	}
	if pue.Name != "hello" {
		t.Errorf("Name = %q, want hello", pue.Name)
	}
	if want := filepath.Join(cfg.BinDir, "hello"); pue.BinaryPath != want {
		t.Errorf("BinaryPath = %q, want %q", pue.BinaryPath, want)
	}
	if want := filepath.Join(cfg.DataDir, ".hello.swap"); pue.BackupPath != want {
		t.Errorf("BackupPath = %q, want %q", pue.BackupPath, want)
	}

	// The new binary is live, the previous one is parked at the path the
	// error names, and the record was not advanced past it.
	if got := readBinary(t, pue.BinaryPath); got != "hello v2" {
		t.Errorf("binary = %q, want hello v2", got)
	}
	if got := readBinary(t, pue.BackupPath); got != "hello v1" {
		t.Errorf("parked binary = %q, want hello v1", got)
	}
	rec, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != "v1.0.0" || rec.HasBackup() {
		t.Errorf("record advanced despite the partial update: %+v", rec)
	}
}

func TestEngine_RollbackRestoresOnFailedPromote(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, _ := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	forge.setRelease("v1.1.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v2"})),
	})
	if _, err := eng.Update(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	rec, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}
	// The backup file vanishing out from under the record makes the
	// promote fail; the current binary must come back from the holding
	// slot.
	if err := os.Remove(rec.BackupPath); err != nil {
		t.Fatal(err)
	}

	_, err = eng.Rollback("hello")
	if err == nil {
		t.Fatal("Rollback() should fail with the backup file missing")
	}
	if IsPartialUpdate(err) {
		t.Errorf("Rollback() = %v; a successful restore must not report a partial update", err)
	}

	after, err := eng.Status("hello")
	if err != nil {
		t.Fatal(err)
	}
	if after.Version != "v1.1.0" {
		t.Errorf("Version = %q, want v1.1.0 (unchanged)", after.Version)
	}
	if got := readBinary(t, after.BinaryPath); got != "hello v2" {
		t.Errorf("binary = %q, want hello v2 restored", got)
	}
}

func TestEngine_ForceInstallRemovesRelocatedBinary(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"tool.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "tool", mode: 0o755, data: "v1"})),
	})
	eng, cfg := newTestEngine(t, forge, nil)

	first, err := eng.Install(context.Background(), "acme/tool", InstallOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// The bin directory moved between runs: a forced reinstall through
	// the new layout must not orphan the old executable.
	moved := cfg
	moved.BinDir = filepath.Join(filepath.Dir(cfg.BinDir), "bin-moved")
	downloader := NewDownloaderWith(time.Minute, 3)
	downloader.backoff = time.Millisecond
	eng2 := NewEngine(moved, eng.store, NewResolver(NewGitHubClient(forge.srv.URL, "")), downloader, nil)

	second, err := eng2.Install(context.Background(), "acme/tool", InstallOptions{Force: true})
	if err != nil {
		t.Fatalf("forced Install() error: %v", err)
	}
	if second.BinaryPath != filepath.Join(moved.BinDir, "tool") {
		t.Errorf("BinaryPath = %q, want the moved bin dir", second.BinaryPath)
	}
	if _, err := os.Stat(first.BinaryPath); !os.IsNotExist(err) {
		t.Errorf("old binary %s survived the forced reinstall", first.BinaryPath)
	}
	if got := readBinary(t, second.BinaryPath); got != "v1" {
		t.Errorf("binary = %q", got)
	}
}

func TestEngine_SameNameOperationsExclude(t *testing.T) {
	forge := newFakeForge(t)
	forge.setRelease("v1.0.0", map[string][]byte{
		"hello.tar.gz": gzipBytes(t, makeTar(t, archiveEntry{name: "hello", mode: 0o755, data: "hello v1"})),
	})
	eng, _ := newTestEngine(t, forge, nil)

	if _, err := eng.Install(context.Background(), "acme/hello", InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	// Claim the slot as a stand-in for a long-running operation.
	release, err := eng.store.Begin("hello")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Update(context.Background(), "hello"); !errors.Is(err, ErrOperationInFlight) {
		t.Errorf("Update() during active operation = %v, want ErrOperationInFlight", err)
	}
	if _, err := eng.Rollback("hello"); !errors.Is(err, ErrOperationInFlight) {
		t.Errorf("Rollback() during active operation = %v, want ErrOperationInFlight", err)
	}
	if err := eng.Uninstall("hello"); !errors.Is(err, ErrOperationInFlight) {
		t.Errorf("Uninstall() during active operation = %v, want ErrOperationInFlight", err)
	}

	release()
	if _, err := eng.Update(context.Background(), "hello"); err != nil {
		t.Errorf("Update() after release error: %v", err)
	}
}
