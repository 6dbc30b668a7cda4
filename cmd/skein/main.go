package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"skein-go/internal/app"
	"skein-go/internal/config"
	"skein-go/internal/skein"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a SkeinApp. The caller must defer a.Close().
// command identifies the CLI command being run.
func newApp(ctx context.Context, command string) (*app.SkeinApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewSkeinApp(ctx, cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// terminalWidth is the width of stdout, or defaultWidth when it is not a terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultWidth
}

var rootCmd = &cobra.Command{
	Use:          "skein",
	Short:        "Reply threads from your notification feed",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		fmt.Printf("Log Dir:  %s\n", paths.LogDir())
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Service:     %s\n", cfg.Remote.ServiceURL)
		fmt.Printf("Durable:     %s\n", cfg.Durable.Type)
		fmt.Printf("Fast tier:   %s\n", humanize.Bytes(uint64(cfg.Fast.MaxSize)))
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Gateway:     %d requests per %s\n", cfg.Gateway.Requests, cfg.Gateway.Window.Duration)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage cache encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair that encrypts the durable cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := app.ReadPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv(app.PassphraseEnv) == "" {
			confirm, err := app.ReadPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if confirm != passphrase {
				return errors.New("passphrases do not match")
			}
		}

		if err := app.InitKeys(cfg.Encryption, passphrase); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull new notifications into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		pages, _ := cmd.Flags().GetInt("pages")

		a, err := newApp(cmd.Context(), "sync")
		if err != nil {
			return err
		}
		defer a.Close()

		notifications, err := a.Sync(cmd.Context(), pages)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("%d notification(s) cached, %d priority\n",
			len(notifications), len(skein.PriorityNotifications(notifications)))
		return nil
	},
}

// threads command
var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Show reply threads from cached notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, _ := cmd.Flags().GetBool("tree")
		offline, _ := cmd.Flags().GetBool("offline")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "threads")
		if err != nil {
			return err
		}
		defer a.Close()

		progress := func(fetched, total int) {
			fmt.Fprintf(os.Stderr, "\rfetching posts %d/%d", fetched, total)
		}
		threads, result, err := a.Threads(cmd.Context(), !offline, progress)
		if err != nil {
			return err
		}
		if result != nil {
			fmt.Fprintln(os.Stderr)
			if result.Cancelled || len(result.Unresolved) > 0 {
				fmt.Fprintf(os.Stderr, "%d post(s) unavailable\n", len(result.Unresolved))
			}
		}

		if len(threads) == 0 {
			fmt.Println("No reply threads.")
			return nil
		}
		if limit > 0 && len(threads) > limit {
			threads = threads[:limit]
		}

		width := terminalWidth()
		if !tree {
			writeThreadSummary(os.Stdout, threads, width)
			return nil
		}
		for i, t := range threads {
			if i > 0 {
				fmt.Println()
			}
			writeTree(os.Stdout, a.ThreadTree(t), width)
		}
		return nil
	},
}

// health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report cache storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "health")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Health(cmd.Context())
		if err != nil {
			return err
		}
		writeReport(os.Stdout, report)
		return nil
	},
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale and temporary cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		a, err := newApp(cmd.Context(), "cleanup")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Cleanup(cmd.Context(), days)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		fmt.Printf("Scanned %d entries, removed %d (%s freed)\n",
			result.Scanned, result.Deleted, humanize.Bytes(uint64(result.FreedBytes)))
		if result.Failed > 0 {
			fmt.Printf("%d entries could not be removed\n", result.Failed)
		}
		return nil
	},
}

// clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe cached posts and/or notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		posts, _ := cmd.Flags().GetBool("posts")
		notifications, _ := cmd.Flags().GetBool("notifications")
		if !posts && !notifications {
			posts, notifications = true, true
		}

		a, err := newApp(cmd.Context(), "clear")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Clear(cmd.Context(), posts, notifications); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync and clean up on the configured schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "watch")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Watching (run %s); press Ctrl-C to stop\n", a.RunID())
		return a.Watch(ctx)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().IntP("pages", "p", 3, "Maximum number of notification pages to fetch")
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.Flags().BoolP("tree", "t", false, "Print each thread as a reply tree")
	threadsCmd.Flags().Bool("offline", false, "Use cached posts only")
	threadsCmd.Flags().IntP("limit", "n", 20, "Maximum number of threads to show")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Int("days", 7, "Keep entries newer than this many days")
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().Bool("posts", false, "Clear cached posts")
	clearCmd.Flags().Bool("notifications", false, "Clear cached notifications")
	rootCmd.AddCommand(watchCmd)
}
