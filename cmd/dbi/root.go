package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kjk/dbi/dbi"
	"github.com/kjk/dbi/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (
	rootCmd = &cobra.Command{
		Use:   "dbi",
		Short: "inspect and edit dbi record files",
		Long: fmt.Sprintf(`dbi (v%s)

Reads and edits stores of string payloads under integer ids: flat text
files with one record per line, or pebble databases.`, Version),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupCommand,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dbi",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dbi v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(vacuumCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(infoCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("backend", "flat", "storage backend (flat, pebble)")
	flags.Int("max-size", dbi.DefaultMaxSize, "id capacity of newly created flat files")
	flags.Bool("sync", false, "fsync after every write")
	flags.Bool("verbose", false, "log more")
	flags.String("log-dir", "", "directory for daily log files, stdout only if empty")
}

// initConfig reads .env files and DBI_* environment variables
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dbi")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupCommand(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	log.Init(&log.Config{
		Dir:     viper.GetString("log-dir"),
		Verbose: viper.GetBool("verbose"),
	})
	return nil
}

func mappingOptions(backend string) (*dbi.Options, error) {
	kind, err := dbi.ParseKind(backend)
	if err != nil {
		return nil, err
	}
	return &dbi.Options{
		Kind:    kind,
		MaxSize: viper.GetInt("max-size"),
		Sync:    viper.GetBool("sync"),
	}, nil
}

func openMapping(path string, backend string) (*dbi.MetricsMapping, error) {
	opts, err := mappingOptions(backend)
	if err != nil {
		return nil, err
	}
	m, err := dbi.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return dbi.WithMetrics(m, filepath.Base(path), nil), nil
}

// withMapping opens the mapping at path with --backend, calls fn and
// closes the mapping
func withMapping(path string, fn func(m *dbi.MetricsMapping) error) error {
	m, err := openMapping(path, viper.GetString("backend"))
	if err != nil {
		return err
	}
	err = fn(m)
	return errors.Join(err, m.Close())
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id '%s', must be a positive number", s)
	}
	return id, nil
}

// execute runs the command line and logs the error it failed with
func execute() error {
	err := rootCmd.Execute()
	log.IfErrf(err, "Error: %s", err)
	return err
}

func main() {
	err := execute()
	log.Close()
	if err != nil {
		os.Exit(1)
	}
}
