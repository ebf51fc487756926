package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/logging"
	"github.com/andresmejia3/irisguide/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the scan and analyze commands
type Options struct {
	InputPath   string
	NthFrame    int
	NumEngines  int
	PixFmt      string
	DebugFrames bool
	NoStore     bool
}

// debugFramesDir is where annotated ready frames are written.
const debugFramesDir = "/data/debug_frames"

var (
	// DB is the global database connection shared by subcommands that persist sessions
	DB *store.Store
	// Tuning is the engine configuration resolved from --config
	Tuning = config.Default()

	dbURL      string
	configPath string
	logFile    string
	verbose    bool
	logCloser  io.Closer
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "irisguide",
	Short:   "Capture-readiness guidance engine for iris photography",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logCloser, err = logging.Setup(logging.Options{File: logFile, Verbose: verbose})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}

		if configPath != "" {
			Tuning, err = config.Load(configPath)
			if err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// resolveDBURL picks the connection string from --db, then POSTGRES_* variables, then the local default.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/irisguide"
}

// connectDB opens the shared connection for commands that need it. PersistentPostRun closes it.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, resolveDBURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/irisguide)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML tuning file (thresholds, debounce, landmark backend)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write diagnostic logs to a rotating file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug diagnostics")
}
