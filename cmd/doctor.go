package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/okonma/rendercache/internal/config"
	"github.com/okonma/rendercache/internal/invoker"
	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/token"
)

var doctorFormat string

// diagnostic is one check result in the doctor report.
type diagnostic struct {
	Name       string `json:"name"`
	Status     string `json:"status"` // "ok", "warning", "error"
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose render engine and cache setup",
	Long: `Check the environment rendercache depends on:

- render engine executable (configured or auto-detected)
- cache directory existence and writability
- token store file integrity`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "text", "output format (text, json)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	results := []diagnostic{
		checkEngine(cfg),
		checkCacheDir(cfg),
		checkStoreFile(cfg),
	}

	if doctorFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(results)
	}

	failures := 0
	for _, result := range results {
		marker := "✓"
		switch result.Status {
		case "warning":
			marker = "!"
		case "error":
			marker = "✗"
			failures++
		}
		fmt.Printf("%s %-16s %s\n", marker, result.Name, result.Message)
		if result.Suggestion != "" {
			fmt.Printf("    %s\n", result.Suggestion)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	return nil
}

func checkEngine(cfg *config.Config) diagnostic {
	inv := invoker.New(cfg.Render, logging.Nop())
	if inv.IsAvailable() {
		return diagnostic{
			Name:    "render engine",
			Status:  "ok",
			Message: fmt.Sprintf("found at %s", inv.Executable()),
		}
	}
	return diagnostic{
		Name:       "render engine",
		Status:     "error",
		Message:    "no executable found",
		Suggestion: "install the render engine or set render.executable_path in .rendercache.yml",
	}
}

func checkCacheDir(cfg *config.Config) diagnostic {
	dir := cfg.Render.CacheDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return diagnostic{
			Name:       "cache directory",
			Status:     "error",
			Message:    fmt.Sprintf("cannot create %s: %v", dir, err),
			Suggestion: "point render.cache_dir at a writable location",
		}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return diagnostic{
			Name:       "cache directory",
			Status:     "error",
			Message:    fmt.Sprintf("%s is not writable: %v", dir, err),
			Suggestion: "fix the directory permissions or choose another render.cache_dir",
		}
	}
	os.Remove(probe)
	return diagnostic{Name: "cache directory", Status: "ok", Message: dir}
}

func checkStoreFile(cfg *config.Config) diagnostic {
	path := filepath.Join(cfg.Render.CacheDir, token.StoreFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return diagnostic{
			Name:    "token store",
			Status:  "ok",
			Message: "no store file yet (fresh cache)",
		}
	}
	if _, err := token.NewStore(cfg.Render.CacheDir, cfg.Render.Format, logging.Nop()); err != nil {
		return diagnostic{
			Name:       "token store",
			Status:     "error",
			Message:    fmt.Sprintf("cannot load %s: %v", path, err),
			Suggestion: "the store file is corrupt; delete it and re-tokenize (tokens are derived cache data)",
		}
	}
	return diagnostic{Name: "token store", Status: "ok", Message: path}
}
