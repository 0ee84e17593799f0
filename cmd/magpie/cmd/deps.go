package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/magpie-pm/magpie/internal/core"
	"github.com/magpie-pm/magpie/internal/tui"
)

// deps holds shared dependencies for CLI commands.
type deps struct {
	cfg      core.Config
	settings *core.Settings
	store    *core.Store
}

// newDeps creates shared dependencies. Called lazily by commands that need them.
func newDeps() (*deps, error) {
	cfg, err := core.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("initializing config: %w", err)
	}

	settings, err := core.LoadSettings(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:      cfg,
		settings: settings,
		store:    core.NewStore(cfg.RegistryPath),
	}, nil
}

// github builds the releases API client. Environment variables win over
// the settings file; the client itself falls back to api.github.com.
func (d *deps) github() *core.GitHubClient {
	api := os.Getenv("MAGPIE_GITHUB_API")
	if api == "" {
		api = d.settings.GitHubAPI
	}
	token := os.Getenv("MAGPIE_GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		token = d.settings.GitHubToken
	}
	return core.NewGitHubClient(api, token)
}

// engine builds the package lifecycle engine from the shared dependencies.
//
// When interactive is true and stderr is a terminal, downloads draw a
// progress bar on stderr. The returned cleanup func erases any leftover
// progress line and must run before the command prints its result.
func (d *deps) engine(picker core.Picker, interactive bool) (*core.Engine, func()) {
	resolver := core.NewResolver(d.github())

	downloader := core.NewDownloaderWith(
		time.Duration(d.settings.DownloadTimeoutSeconds)*time.Second,
		d.settings.DownloadRetries,
	)

	finish := func() {}
	if interactive && isatty.IsTerminal(os.Stderr.Fd()) {
		bar := tui.NewProgressPrinter(os.Stderr, "Downloading")
		downloader.Progress = bar.Report
		finish = bar.Finish
	}

	return core.NewEngine(d.cfg, d.store, resolver, downloader, picker), finish
}
