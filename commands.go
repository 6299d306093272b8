package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/btree-file-index/btidx/index/btree"
	"github.com/btree-file-index/btidx/pager"
)

// exactArgs rejects a wrong argument count with the command's usage line,
// which run prints verbatim.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return errors.New(usage)
		}
		return nil
	}
}

// report prints an error line for err and marks it handled.
func (a *app) report(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Error: %v\n", err)
	return errReported
}

// reportMsg prints a fixed error line and marks the error handled.
func (a *app) reportMsg(cmd *cobra.Command, msg string) error {
	fmt.Fprintln(cmd.OutOrStdout(), "Error: "+msg)
	return errReported
}

// openTree opens an existing index file, translating the well-known
// failures into their fixed messages.
func (a *app) openTree(cmd *cobra.Command, path string) (*btree.Tree, error) {
	t, err := btree.Open(path, a.log)
	switch {
	case errors.Is(err, pager.ErrMissing):
		return nil, a.reportMsg(cmd, "index file does not exist")
	case errors.Is(err, btree.ErrBadMagic):
		return nil, a.reportMsg(cmd, "not an index file")
	case err != nil:
		return nil, a.report(cmd, err)
	}
	return t, nil
}

// closeTree closes the tree, reporting a flush failure instead of
// swallowing it: a failed close means the file may be inconsistent.
func (a *app) closeTree(cmd *cobra.Command, t *btree.Tree) error {
	if err := t.Close(); err != nil {
		return a.report(cmd, err)
	}
	return nil
}

// parseUint parses a non-negative decimal integer. A leading '+' is
// accepted; anything negative or beyond 64 bits is rejected.
func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	return strconv.ParseUint(s, 10, 64)
}

func (a *app) newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <index>",
		Short: "Create a new, empty index file",
		Args:  exactArgs(1, "usage: btidx create <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := btree.Create(args[0], a.log)
			if errors.Is(err, pager.ErrExists) {
				return a.reportMsg(cmd, "file exists")
			}
			if err != nil {
				return a.report(cmd, err)
			}
			return a.closeTree(cmd, t)
		},
	}
}

func (a *app) newInsertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert <index> <key> <value>",
		Short: "Insert one key/value pair",
		Args:  exactArgs(3, "usage: btidx insert <index> <key> <value>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.openTree(cmd, args[0])
			if err != nil {
				return err
			}
			key, kerr := parseUint(args[1])
			value, verr := parseUint(args[2])
			if kerr != nil || verr != nil {
				t.Close()
				return a.reportMsg(cmd, "key and value must be unsigned integers")
			}
			if err := t.Insert(key, value); err != nil {
				t.Close()
				if errors.Is(err, btree.ErrDupKey) {
					return a.reportMsg(cmd, "duplicate key")
				}
				return a.report(cmd, err)
			}
			return a.closeTree(cmd, t)
		},
	}
	// Stop flag parsing at the first positional argument, so a negative
	// number such as "-2" reaches the integer check instead of being
	// taken for a flag.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (a *app) newSearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <index> <key>",
		Short: "Look up one key",
		Args:  exactArgs(2, "usage: btidx search <index> <key>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.openTree(cmd, args[0])
			if err != nil {
				return err
			}
			key, kerr := parseUint(args[1])
			if kerr != nil {
				t.Close()
				return a.reportMsg(cmd, "key must be an unsigned integer")
			}
			value, err := t.Search(key)
			if err != nil {
				t.Close()
				if errors.Is(err, btree.ErrNotFound) {
					return a.reportMsg(cmd, "key not found")
				}
				return a.report(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %d\n", key, value)
			return a.closeTree(cmd, t)
		},
	}
}

func (a *app) newLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <index> <csv>",
		Short: "Insert every well-formed row of a CSV file",
		Args:  exactArgs(2, "usage: btidx load <index> <csv>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				if os.IsNotExist(err) {
					return a.reportMsg(cmd, "CSV file does not exist")
				}
				return a.report(cmd, err)
			}
			defer f.Close()

			t, err := a.openTree(cmd, args[0])
			if err != nil {
				return err
			}
			if err := a.loadRows(t, f); err != nil {
				t.Close()
				return a.report(cmd, err)
			}
			return a.closeTree(cmd, t)
		},
	}
}

// loadRows inserts every acceptable row from r. Rows that are short,
// unparsable, out of range, or duplicate an existing key are skipped; the
// load never aborts because of a bad row.
func (a *app) loadRows(t *btree.Tree, r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// A quoting problem spoils one record, not the load; anything
			// else means the reader itself is broken.
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				a.log.Debug().Err(err).Msg("skip unreadable row")
				continue
			}
			return err
		}
		if len(row) < 2 {
			a.log.Debug().Strs("row", row).Msg("skip short row")
			continue
		}
		key, kerr := parseUint(row[0])
		value, verr := parseUint(row[1])
		if kerr != nil || verr != nil {
			a.log.Debug().Strs("row", row).Msg("skip non-integer row")
			continue
		}
		if err := t.Insert(key, value); err != nil {
			if errors.Is(err, btree.ErrDupKey) {
				a.log.Debug().Uint64("key", key).Msg("skip duplicate key")
				continue
			}
			return err
		}
	}
}

func (a *app) newPrintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print <index>",
		Short: "Print all pairs in key order",
		Args:  exactArgs(1, "usage: btidx print <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.openTree(cmd, args[0])
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			err = t.Traverse(func(key, value uint64) error {
				_, werr := fmt.Fprintf(w, "%d %d\n", key, value)
				return werr
			})
			if ferr := w.Flush(); err == nil {
				err = ferr
			}
			if err != nil {
				t.Close()
				return a.report(cmd, err)
			}
			return a.closeTree(cmd, t)
		},
	}
}

func (a *app) newExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <index> <out>",
		Short: "Write all pairs in key order to a CSV file",
		Args:  exactArgs(2, "usage: btidx extract <index> <out>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
			if err != nil {
				if os.IsExist(err) {
					return a.reportMsg(cmd, "output file exists")
				}
				return a.report(cmd, err)
			}

			t, err := a.openTree(cmd, args[0])
			if err != nil {
				out.Close()
				os.Remove(args[1])
				return err
			}

			cw := csv.NewWriter(out)
			err = t.Traverse(func(key, value uint64) error {
				return cw.Write([]string{
					strconv.FormatUint(key, 10),
					strconv.FormatUint(value, 10),
				})
			})
			cw.Flush()
			if err == nil {
				err = cw.Error()
			}
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				t.Close()
				return a.report(cmd, err)
			}
			return a.closeTree(cmd, t)
		},
	}
}
