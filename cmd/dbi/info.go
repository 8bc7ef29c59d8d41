package main

import (
	"os"

	"github.com/kjk/dbi/dbi"
	"github.com/kjk/dbi/u"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type storeInfo struct {
	Path     string `json:"path"`
	Backend  string `json:"backend"`
	NextID   int    `json:"nextId,omitempty"`
	IDWidth  int    `json:"idWidth,omitempty"`
	Records  int    `json:"records"`
	Size     int64  `json:"size"`
	SizeDesc string `json:"sizeDesc"`
}

var infoCmd = &cobra.Command{
	Use:   "info [path]",
	Short: "Prints information about a store as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		showMetrics, _ := cmd.Flags().GetBool("metrics")
		return withMapping(path, func(m *dbi.MetricsMapping) error {
			info := storeInfo{
				Path:    path,
				Backend: viper.GetString("backend"),
			}
			switch inner := m.Unwrap().(type) {
			case *dbi.FlatFile:
				info.NextID = inner.NextID()
				info.IDWidth = inner.Width()
			case *dbi.PebbleMapping:
				info.NextID = inner.NextID()
			}
			records, err := readRecords(m)
			if err != nil {
				return err
			}
			info.Records = len(records)
			info.Size = storeSize(path)
			info.SizeDesc = u.FormatSize(info.Size)
			if err = printJSON(info); err != nil {
				return err
			}
			if showMetrics {
				m.WritePrometheus(os.Stdout)
			}
			return nil
		})
	},
}

func init() {
	infoCmd.Flags().Bool("metrics", false, "also print metrics of operations done by this command")
}
