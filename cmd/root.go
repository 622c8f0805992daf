package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/vigil/internal/logger"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for watch, enroll and identify.
type Options struct {
	InputPath      string
	InputFormat    string
	NthFrame       int
	NumEngines     int
	MatchThreshold float64
	EARThreshold   float64
	ClosedFrames   int
	PoseThreshold  float64
	Downsample     int
	SessionKey     string
	GraceFrames    int
	EncodingsPath  string
	Record         bool
	JSONOutput     bool
	PredictorPath  string
	WorkerScript   string
	WorkerTimeout  string
}

// requiresDB marks commands that cannot run without Postgres.
const requiresDB = "requiresDB"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// dbURL is the connection string
	dbURL   string
	verbose bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "vigil",
	Short:   "Face recognition with blink and head-pose liveness checks",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to read .env: %v\n", err)
		}
		if err := logger.Init(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if cmd.Annotations[requiresDB] != "true" {
			return nil
		}
		return connectDB(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled (Ctrl+C) and we still need to close.
			DB.Close(context.Background())
			DB = nil
		}
		logger.Sync()
	},
}

// connectionString resolves --db, then POSTGRES_* variables, then the local default.
func connectionString() string {
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
	return "postgres://localhost:5432/vigil"
}

func connectDB(ctx context.Context) error {
	var err error
	DB, err = store.New(ctx, connectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: POSTGRES_* env or postgres://localhost:5432/vigil)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
