package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/config"
	"github.com/brettbedarf/libfs/internal/util"
	"github.com/brettbedarf/libfs/server"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// app carries the global flags and the opened store between cobra hooks
type app struct {
	configPath string
	dbPath     string
	verbose    int

	fs *server.LibFS
}

// run executes the command line args and closes the store afterwards
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(context.Background())
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "libfs",
		Short:         "Hierarchical file libraries over pluggable storage backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a yaml or json config file")
	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database file (overrides the config)")
	cmd.PersistentFlags().IntVarP(&a.verbose, "verbose", "v", config.InfoVerbose,
		"Log verbosity level between 1 (error) and 5 (trace)")

	cmd.AddCommand(
		newBackendCmd(a),
		newLibraryCmd(a),
		newLsCmd(a),
		newMkdirCmd(a),
		newPutCmd(a),
		newGetCmd(a),
		newMvCmd(a),
		newRenameCmd(a),
		newRmCmd(a),
		newThumbCmd(a),
		newImportCmd(a),
	)
	return cmd
}

// open loads the config (defaults, file, environment, then flags) and
// opens the store
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	override := &config.ConfigOverride{}
	if cmd.Flags().Changed("db") {
		override.DatabasePath = &a.dbPath
	}
	if cmd.Flags().Changed("verbose") {
		override.LogLvl = &a.verbose
	}
	cfg.Merge(override)

	util.InitializeLoggerTo(cmd.ErrOrStderr(), cfg.LogLvl)
	logger := util.GetLogger("main")
	logger.Debug().Str("config", a.configPath).Str("database", cfg.DatabasePath).Msg("Opening store")

	a.fs, err = server.New(cfg)
	return err
}

func (a *app) close() error {
	if a.fs == nil {
		return nil
	}
	err := a.fs.Close()
	a.fs = nil
	return err
}

func parseLibrary(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, libfs.NewValidationError("library", fmt.Sprintf("%q is not a library id", s))
	}
	return id, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// output returns the writer for -o: stdout when path is "" or "-"
func output(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
