// Package cli implements the keepsake command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/keepsake/pkg/keepsake"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// Exit codes. Success is the implicit zero.
const (
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

var flags rootFlags

// NewRootCmd creates the top-level "keepsake" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:   "keepsake",
		Short: "Append-only, deduplicated record storage",
		Long: "keepsake saves records of configured tables through the aggregation\n" +
			"and tracking engine: aggregated tables share rows by content, tracked\n" +
			"tables keep every version as a new row.",
		Version:       keepsake.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/keepsake)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.keepsake)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newSaveCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newImportCmd())
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "keepsake:", err)
		os.Exit(exitCode(err))
	}
}

// exitError carries the exit code a failure maps to.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// classify maps engine errors to user errors and everything else to system
// errors.
func classify(err error) error {
	for _, userErr := range []error{
		types.ErrNotFound,
		types.ErrInvalidID,
		types.ErrStaleObject,
		types.ErrRecordInvalid,
		types.ErrTypeMismatch,
		types.ErrUnknownColumn,
		types.ErrFrozenRecord,
		types.ErrNotTracked,
		types.ErrInvalidData,
	} {
		if errors.Is(err, userErr) {
			return userError(err)
		}
	}
	return sysError(err)
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Flag and argument errors come straight from cobra.
	return exitUserError
}
