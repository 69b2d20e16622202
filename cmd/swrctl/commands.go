package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/agentuity/go-swr/cache"
	"github.com/agentuity/go-swr/swr"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [name...]",
		Short: "Show the stored record of each entry, all configured entries by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			names := args
			if len(names) == 0 {
				for _, e := range rt.Config.Entries {
					names = append(names, e.Name)
				}
			}
			showValue, _ := cmd.Flags().GetBool("value")
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tEXPIRES")
			var values []string
			now := time.Now()
			for _, name := range names {
				rec, ok, err := rt.Store.GetRaw(cmd.Context(), name)
				if err != nil {
					return errors.Wrapf(err, "inspect %s", name)
				}
				state, expires := describe(rec, ok, now)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, state, expires)
				if showValue && ok {
					text, err := renderValue(rec.Value)
					if err != nil {
						return errors.Wrapf(err, "inspect %s", name)
					}
					values = append(values, name+" = "+text)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, v := range values {
				fmt.Fprintln(out, v)
			}
			return nil
		},
	}
	cmd.Flags().Bool("value", false, "Print each stored value as JSON")
	return cmd
}

func describe(rec cache.Record, ok bool, now time.Time) (cache.State, string) {
	if !ok {
		return cache.Absent, "-"
	}
	if rec.ExpiresAt.IsZero() {
		return cache.Fresh, "never"
	}
	state := cache.Fresh
	if rec.Expired(now) {
		state = cache.Stale
	}
	return state, rec.ExpiresAt.UTC().Format(time.RFC3339)
}

// renderValue prints serialized values decoded from msgpack and anything
// else as-is, both as JSON.
func renderValue(v any) (string, error) {
	if data, ok := v.(msgpack.RawMessage); ok {
		var decoded any
		if err := msgpack.Unmarshal(data, &decoded); err != nil {
			return "", err
		}
		v = decoded
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove stored records by name prefix, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			all, _ := cmd.Flags().GetBool("all")
			if all == (prefix != "") {
				return errors.New("exactly one of --prefix or --all is required")
			}
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			var n int
			if all {
				n, err = swr.DeleteAll(cmd.Context(), rt.Store)
			} else {
				n, err = swr.DeleteAllWithPrefix(cmd.Context(), rt.Store, prefix)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d records\n", n)
			return nil
		},
	}
	cmd.Flags().String("prefix", "", "Remove records whose name starts with prefix")
	cmd.Flags().Bool("all", false, "Remove every record")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete name...",
		Short: "Remove the stored records of the named entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			for _, name := range args {
				found, err := rt.Store.Delete(cmd.Context(), name)
				if err != nil {
					return errors.Wrapf(err, "delete %s", name)
				}
				if found {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s not found\n", name)
				}
			}
			return nil
		},
	}
}
