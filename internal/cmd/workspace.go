package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/herd/internal/config"
	"github.com/Iron-Ham/herd/internal/fingerprint"
	"github.com/Iron-Ham/herd/internal/presence"
	"github.com/Iron-Ham/herd/internal/registry"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
)

func init() {
	// Force color output even when not connected to a TTY.
	// Users can disable with the NO_COLOR environment variable.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	blue   = color.New(color.FgBlue)
	gray   = color.New(color.FgHiBlack)
)

// workspace ties a command invocation to the repository it runs in.
type workspace struct {
	cfg      *config.Config
	repoRoot string
	coordDir string
}

// openWorkspace resolves the repository root above the working directory,
// loads the configuration, and locates the coordination directory. Every
// command that touches fleet state starts here so they all agree on where
// that state lives.
func openWorkspace() (*workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	repoRoot, err := fingerprint.RepoRoot(cwd)
	if err != nil {
		return nil, fmt.Errorf("not a git repository (or any parent up to mount point)")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &workspace{
		cfg:      cfg,
		repoRoot: repoRoot,
		coordDir: cfg.Coordination.ResolveDir(repoRoot),
	}, nil
}

// openPresenceStore opens the presence backend the configuration selects
func (ws *workspace) openPresenceStore() (presence.Store, error) {
	switch ws.cfg.Coordination.PresenceBackend {
	case "redis":
		return presence.NewRedisStore(&redis.Options{
			Addr:     ws.cfg.Redis.Addr,
			Password: ws.cfg.Redis.Password,
			DB:       ws.cfg.Redis.DB,
		}, ws.cfg.Redis.KeyPrefix, ws.cfg.Coordination.PresenceTTL())
	default:
		return presence.NewFileStore(ws.coordDir)
	}
}

// openRegistry opens the shared lease registry for this workspace
func (ws *workspace) openRegistry() (*registry.Registry, error) {
	store, err := registry.NewStore(filepath.Join(ws.coordDir, ws.cfg.Registry.FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return registry.New(store), nil
}
