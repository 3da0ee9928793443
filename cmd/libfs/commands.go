package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brettbedarf/libfs/catalog"
	"github.com/brettbedarf/libfs/internal/util"
	"github.com/brettbedarf/libfs/requests"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBackendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Manage backend configurations",
	}

	var options map[string]string
	add := &cobra.Command{
		Use:   "add <name> <kind>",
		Short: "Validate and store a backend configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.fs.Catalog().CreateBackendConfig(cmd.Context(), args[0], args[1], options)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.ID)
			return nil
		},
	}
	add.Flags().StringToStringVarP(&options, "option", "o", nil, "Provider option as key=value, may be repeated")

	list := &cobra.Command{
		Use:   "list",
		Short: "List backend configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgs, err := a.fs.Catalog().ListBackendConfigs(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tNAME\tKIND\tCREATED")
			for _, c := range cfgs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.Kind, c.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	kinds := &cobra.Command{
		Use:   "kinds",
		Short: "List the backend kinds that can be configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.fs.Catalog().Registry()
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "KIND\tNAME")
			for _, kind := range reg.Kinds() {
				p, _ := reg.Lookup(kind)
				fmt.Fprintf(tw, "%s\t%s\n", p.Kind(), p.Name())
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, list, kinds)
	return cmd
}

func newLibraryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage libraries",
	}

	var (
		owner    string
		configID int64
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a library storing its bytes through a backend configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := a.fs.Catalog().CreateLibrary(cmd.Context(), args[0], owner, configID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), lib.ID)
			return nil
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "Owner of the library")
	create.Flags().Int64Var(&configID, "backend", 0, "Backend configuration id")
	_ = create.MarkFlagRequired("backend")

	var listOwner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			libs, err := a.fs.Catalog().ListLibraries(cmd.Context(), listOwner)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tNAME\tOWNER\tBACKEND")
			for _, l := range libs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", l.ID, l.Name, l.Owner, l.ConfigID)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&listOwner, "owner", "", "Only list libraries of this owner")

	var newName, newOwner string
	update := &cobra.Command{
		Use:   "update <library>",
		Short: "Change the name or owner of a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			var upd catalog.LibraryUpdate
			if cmd.Flags().Changed("name") {
				upd.Name = &newName
			}
			if cmd.Flags().Changed("owner") {
				upd.Owner = &newOwner
			}
			lib, err := a.fs.Catalog().UpdateLibrary(cmd.Context(), id, upd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", lib.ID, lib.Name, lib.Owner)
			return nil
		},
	}
	update.Flags().StringVar(&newName, "name", "", "New library name")
	update.Flags().StringVar(&newOwner, "owner", "", "New owner")
	update.MarkFlagsOneRequired("name", "owner")

	cmd.AddCommand(create, list, update)
	return cmd
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <library> [path]",
		Short: "List a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			var path string
			if len(args) == 2 {
				path = args[1]
			}
			nodes, err := a.fs.List(cmd.Context(), lib, path)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			for _, n := range nodes {
				name := n.Name
				if n.IsDir() {
					name += "/"
				}
				size := "-"
				if !n.IsDir() {
					size = strconv.FormatInt(n.Size, 10)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, size, n.GetContentType(), n.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <library> <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			dir, err := a.fs.Mkdir(cmd.Context(), lib, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir.Path)
			return nil
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "put <library> <local-file|-> <path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			node, err := a.fs.Upload(cmd.Context(), lib, args[2], contentType, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", node.Path, node.Size, node.GetContentType())
			return nil
		},
	}
	cmd.Flags().StringVarP(&contentType, "type", "t", "", "Content type; detected from the content when empty")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <library> <path>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			_, rc, err := a.fs.Download(cmd.Context(), lib, args[1])
			if err != nil {
				return err
			}
			defer rc.Close()
			return copyTo(cmd, out, rc)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newMvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <library> <path> <target-dir>",
		Short: "Move a file or directory into another directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			node, err := a.fs.Move(cmd.Context(), lib, args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), node.Path)
			return nil
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <library> <path> <new-name>",
		Short: "Rename a file or directory in place",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			node, err := a.fs.Rename(cmd.Context(), lib, args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), node.Path)
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <library> <path>",
		Short: "Delete a file or an empty directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			return a.fs.Delete(cmd.Context(), lib, args[1])
		},
	}
}

func newThumbCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "thumb <library> <path> <WxH>",
		Short: "Write a thumbnail of an image file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			art, err := a.fs.Artifact(cmd.Context(), lib, args[1], args[2])
			if err != nil {
				return err
			}
			rc, err := a.fs.OpenArtifact(cmd.Context(), art)
			if err != nil {
				return err
			}
			defer rc.Close()
			return copyTo(cmd, out, rc)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func copyTo(cmd *cobra.Command, path string, r io.Reader) error {
	w, err := output(cmd, path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <library> <manifest.json>",
		Short: "Create the directories and upload the files listed in a manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := util.GetLogger("main.import")
			lib, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			m, err := requests.Unmarshal(data, filepath.Dir(args[1]))
			if err != nil {
				return err
			}
			logger.Debug().Int("files", len(m.Files)).Int("directories", len(m.Dirs)).Msg("Loaded manifest")

			ctx := cmd.Context()
			var errs []error
			dirAddCnt := 0
			for _, req := range m.Dirs {
				if _, err := a.fs.MkdirAll(ctx, lib, req.Path); err != nil {
					logger.Warn().Err(err).Str("path", req.Path).Msg("Failed to add directory request")
					errs = append(errs, fmt.Errorf("%s: %w", req.Path, err))
					continue
				}
				dirAddCnt++
			}
			fileAddCnt := 0
			for _, req := range m.Files {
				if err := importFile(cmd, a, lib, req); err != nil {
					logger.Warn().Err(err).Str("path", req.Path).Str("source", req.Source).Msg("Failed to add file request")
					errs = append(errs, fmt.Errorf("%s: %w", req.Path, err))
					continue
				}
				fileAddCnt++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d directories, %d files\n", dirAddCnt, fileAddCnt)
			return errors.Join(errs...)
		},
	}
}

func importFile(cmd *cobra.Command, a *app, lib uuid.UUID, req *requests.FileRequest) error {
	if i := strings.LastIndex(req.Path, "/"); i > 0 {
		if _, err := a.fs.MkdirAll(cmd.Context(), lib, req.Path[:i]); err != nil {
			return err
		}
	}
	f, err := os.Open(req.Source)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = a.fs.Upload(cmd.Context(), lib, req.Path, req.ContentType, f)
	return err
}
