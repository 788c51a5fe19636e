/*
ratesctl - Operator CLI for the rates engine

PURPOSE:
  Imports council extracts, resets scopes and inspects import history
  directly against the SQLite database, without going through the API.

COMMANDS:
  import    --council --period --file [--reset] [--header] [--detect-mismatches] [--queue]
  reset     --council --period [--yes]
  councils  add | list
  runs      [--council] [--limit]

CONFIGURATION:
  --db defaults to RATES_DB_PATH (see config package); .env is honoured.

SEE ALSO:
  - extract: CSV / XLSX readers
  - jobs: --queue hands the refresh to cmd/worker
*/
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/rates-engine/config"
	"github.com/warp/rates-engine/store/sqlite"
)

// app carries state shared by every subcommand.
type app struct {
	cfg    *config.Config
	dbPath string
	quiet  bool
	store  *sqlite.Store
	stdin  io.Reader
	isTTY  func() bool
}

func (a *app) logger() *log.Logger {
	if a.quiet {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// close releases the store opened by the root command's pre-run.
func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ratesctl",
		Short:         "Import and reconcile council rate-roll extracts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(a.dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			a.store = store
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.dbPath, "db", a.cfg.DBPath, "SQLite database path")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress per-row log output")

	root.AddCommand(
		newImportCmd(a),
		newResetCmd(a),
		newCouncilsCmd(a),
		newRunsCmd(a),
	)
	return root
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a := &app{cfg: cfg, stdin: os.Stdin, isTTY: stdinIsTerminal}
	err = newRootCmd(a).Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
