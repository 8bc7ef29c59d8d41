package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kjk/dbi/dbi"
	"github.com/kjk/dbi/u"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [path] [id]",
		Short: "Prints the payload of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withMapping(args[0], func(m *dbi.MetricsMapping) error {
				s, err := m.Get(id)
				if err != nil {
					return err
				}
				fmt.Println(s)
				return nil
			})
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [path] [payload...]",
		Short: "Adds a record and prints its id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := strings.Join(args[1:], " ")
			return withMapping(args[0], func(m *dbi.MetricsMapping) error {
				id, err := m.Add(s)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [path] [id] [payload...]",
		Short: "Replaces the payload of a record",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			s := strings.Join(args[2:], " ")
			return withMapping(args[0], func(m *dbi.MetricsMapping) error {
				return m.Set(id, s)
			})
		},
	}
	rmCmd = &cobra.Command{
		Use:     "rm [path] [id]",
		Aliases: []string{"remove"},
		Short:   "Removes a record and prints its payload",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withMapping(args[0], func(m *dbi.MetricsMapping) error {
				s, err := m.Remove(id)
				if err != nil {
					return err
				}
				fmt.Println(s)
				return nil
			})
		},
	}
	lsCmd = &cobra.Command{
		Use:   "ls [path]",
		Short: "Lists records ordered by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withMapping(args[0], func(m *dbi.MetricsMapping) error {
				records, err := readRecords(m)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(records)
				}
				for _, r := range records {
					fmt.Printf("%d\t%s\n", r.ID, r.Payload)
				}
				return nil
			})
		},
	}
	vacuumCmd = &cobra.Command{
		Use:   "vacuum [path]",
		Short: "Drops removed records from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			sizeBefore := storeSize(path)
			timeStart := time.Now()
			err := withMapping(path, func(m *dbi.MetricsMapping) error {
				return m.Vacuum()
			})
			if err != nil {
				return err
			}
			fmt.Printf("vacuumed '%s' in %s, size: %s => %s\n", path, u.FormatDuration(time.Since(timeStart)), u.FormatSize(sizeBefore), u.FormatSize(storeSize(path)))
			return nil
		},
	}
)

func init() {
	lsCmd.Flags().Bool("json", false, "print records as JSON")
}

type jsonRecord struct {
	ID      int    `json:"id"`
	Payload string `json:"payload"`
}

func readRecords(m dbi.Mapping) ([]jsonRecord, error) {
	var res []jsonRecord
	pairs, errFn := m.Iterate()
	for id, s := range pairs {
		res = append(res, jsonRecord{ID: id, Payload: s})
	}
	if err := errFn(); err != nil {
		return nil, err
	}
	slices.SortFunc(res, func(a, b jsonRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

func printJSON(v any) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(pretty.Pretty(d))
	return err
}

// storeSize returns the size of a flat file or of a pebble directory
func storeSize(path string) int64 {
	if u.DirExists(path) {
		return u.DirSize(path)
	}
	return u.FileSize(path)
}
