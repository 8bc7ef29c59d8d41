package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/kjk/dbi/dbi"
	"github.com/kjk/dbi/u"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	exportCmd = &cobra.Command{
		Use:   "export [path] [file]",
		Short: "Writes records to a flat file, compressed if file ends with .gz, .br or .zst",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := args[1]
			return withMapping(args[0], func(m *dbi.MetricsMapping) error {
				timeStart := time.Now()
				n, err := dbi.ExportFile(dst, m)
				if err != nil {
					return err
				}
				fmt.Printf("exported %d records to '%s' (%s, %s) in %s\n", n, dst, u.CodecForPath(dst), u.FormatSize(u.FileSize(dst)), u.FormatDuration(time.Since(timeStart)))
				return nil
			})
		},
	}
	importCmd = &cobra.Command{
		Use:   "import [path] [file]",
		Short: "Adds records from an exported file, keeping their ids",
		Long: `Adds records from an exported file, keeping their ids.
The store must not have allocated any of the imported ids.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[1]
			if !u.FileExists(src) {
				return fmt.Errorf("file '%s' doesn't exist", src)
			}
			return withMapping(args[0], func(m *dbi.MetricsMapping) error {
				timeStart := time.Now()
				n, err := dbi.ImportFile(src, m)
				if err != nil {
					return err
				}
				fmt.Printf("imported %d records from '%s' in %s\n", n, src, u.FormatDuration(time.Since(timeStart)))
				return nil
			})
		},
	}
	copyCmd = &cobra.Command{
		Use:   "copy [src] [dst]",
		Short: "Copies records to another store, e.g. from a flat file to pebble",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			src, err := openMapping(args[0], viper.GetString("backend"))
			if err != nil {
				return err
			}
			dst, err := openMapping(args[1], to)
			if err != nil {
				return errors.Join(err, src.Close())
			}
			timeStart := time.Now()
			n, err := dbi.Copy(dst, src)
			err = errors.Join(err, dst.Close(), src.Close())
			if err != nil {
				return err
			}
			fmt.Printf("copied %d records from '%s' to '%s' in %s\n", n, args[0], args[1], u.FormatDuration(time.Since(timeStart)))
			return nil
		},
	}
)

func init() {
	copyCmd.Flags().String("to", "pebble", "backend of the destination (flat, pebble)")
}
