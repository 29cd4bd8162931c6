package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"audioanchor/internal/server"
	"audioanchor/internal/watcher"
	"audioanchor/pkg/models"
)

var (
	addSingle     bool
	listDirectory int64
	listAlbum     int64
)

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a directory and import it",
	Long: `Register a directory and import its albums immediately.

By default every subfolder of <path> is an album. With --single the
directory itself is one album.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <directory-id>",
	Short: "Unregister a directory and drop its albums",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reconcile every registered directory with the filesystem",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List directories, the albums of a directory, or the tracks of an album",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog API and follow filesystem changes",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	addCmd.Flags().BoolVar(&addSingle, "single", false, "Treat the directory itself as one album")
	listCmd.Flags().Int64Var(&listDirectory, "directory", 0, "List the albums of this directory id")
	listCmd.Flags().Int64Var(&listAlbum, "album", 0, "List the tracks of this album id")
	listCmd.MarkFlagsMutuallyExclusive("directory", "album")

	rootCmd.AddCommand(addCmd, removeCmd, refreshCmd, listCmd, serveCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	dirType := models.ParentDir
	if addSingle {
		dirType = models.SingleDir
	}

	dir, report, err := a.syncer.AddDirectory(ctx, args[0], dirType)
	if err != nil && report == nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Registered directory %d: %s (%s)\n", dir.ID, dir.Path, dir.Type)
	printReport(out, report)
	return err
}

func runRemove(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid directory id %q", args[0])
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dir, err := a.db.GetDirectory(cmd.Context(), id)
	if err != nil {
		return err
	}
	if err := a.db.DeleteDirectory(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed directory %d: %s\n", dir.ID, dir.Path)
	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	start := time.Now()
	report, err := a.syncer.RefreshAll(ctx)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
		fmt.Fprintf(cmd.OutOrStdout(), "%d directories in %v\n", report.Directories, time.Since(start).Round(time.Millisecond))
	}
	return err
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer tw.Flush()

	switch {
	case listAlbum > 0:
		album, err := a.db.GetAlbum(ctx, listAlbum)
		if err != nil {
			return err
		}
		files, err := a.db.ListAudioFilesByAlbum(ctx, album.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\t#\tTITLE\tDURATION\tPROGRESS")
		for _, f := range files {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%v\t%v\n", f.ID, f.SortIndex, f.Title,
				time.Duration(f.DurationMs)*time.Millisecond,
				time.Duration(f.CompletedTimeMs)*time.Millisecond)
		}

	case listDirectory > 0:
		if _, err := a.db.GetDirectory(ctx, listDirectory); err != nil {
			return err
		}
		albums, err := a.db.ListAlbumsByDirectory(ctx, listDirectory)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tTITLE\tCOVER\tPATH")
		for _, al := range albums {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", al.ID, al.Title, al.CoverPath, al.Path)
		}

	default:
		dirs, err := a.db.ListDirectories(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tTYPE\tPATH")
		for _, d := range dirs {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", d.ID, d.Type, d.Path)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.syncer.SetListener(logListener{a.logger})

	ctx, stop := signalContext()
	defer stop()

	// bring the catalog up to date before accepting requests
	if _, err := a.syncer.RefreshAll(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var trigger server.Trigger
	if a.cfg.Watcher.Enabled {
		w, err := watcher.New(a.syncer, a.db, watcher.Options{
			Debounce:     time.Duration(a.cfg.Watcher.DebounceMs) * time.Millisecond,
			Interval:     time.Duration(a.cfg.Watcher.RefreshIntervalMinutes) * time.Minute,
			IgnoreHidden: !a.cfg.Library.ShowHidden,
		}, a.logger)
		if err != nil {
			a.logger.WithError(err).Warn("Could not start file watcher")
		} else {
			trigger = w
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	srv := server.NewCatalogServer(a.cfg, a.db, a.syncer, trigger, a.logger)
	g.Go(func() error { return srv.Start(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("audioanchor stopped")
	return err
}
