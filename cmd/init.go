package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/okonma/rendercache/internal/config"
)

const configFileName = ".rendercache.yml"

var initForce bool

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"i"},
	Short:   "Write a default configuration file",
	Long: `Write a default .rendercache.yml to the current directory.

The generated file documents every setting with its default value; edit it
or override individual values with RENDERCACHE_* environment variables.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configFileName); err == nil && !initForce {
		return fmt.Errorf("%s already exists; use --force to overwrite", configFileName)
	}

	raw, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("serializing default config: %w", err)
	}

	header := []byte("# rendercache configuration\n# Values may be overridden with RENDERCACHE_<SECTION>_<OPTION> environment variables.\n")
	if err := os.WriteFile(configFileName, append(header, raw...), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", configFileName, err)
	}

	fmt.Printf("Wrote %s\n", configFileName)
	return nil
}
