package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repogate/pkg/directory"
	"github.com/platinummonkey/repogate/pkg/observability"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// env is shared by every subcommand
type env struct {
	out io.Writer
	log *logrus.Logger
}

// NewRootCommand creates the root command writing to stdout and logging
// to stderr
func NewRootCommand() *Command {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return newRootCommand(&env{out: os.Stdout, log: log})
}

func newRootCommand(e *env) *Command {
	root := &Command{
		Name:        "repogate-cli",
		Description: "repogate - directory provisioning",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("repogate-cli", flag.ContinueOnError),
	}

	// Add subcommands
	root.Subcommands["migrate"] = newMigrateCommand(e)
	root.Subcommands["import"] = newImportCommand(e)
	root.Subcommands["site"] = newSiteCommand(e)
	root.Subcommands["sites"] = newSitesCommand(e)
	root.Subcommands["grant"] = newGrantCommand(e)
	root.Subcommands["revoke"] = newRevokeCommand(e)
	root.Subcommands["check"] = newCheckCommand(e)

	return root
}

// Execute runs the command with os.Args
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the subcommand named by args[0]
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// storeFlags are the connection flags every subcommand accepts
type storeFlags struct {
	driver        *string
	dsn           *string
	redisURL      *string
	redisPassword *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	driver := os.Getenv("REPOGATE_DIRECTORY_TYPE")
	if driver == "" || driver == "file" {
		driver = directory.DriverPostgres
	}
	if driver == "sqlite" {
		driver = directory.DriverSQLite
	}
	return storeFlags{
		driver:        fs.String("driver", driver, "Database driver (postgres or sqlite3)"),
		dsn:           fs.String("dsn", os.Getenv("REPOGATE_DIRECTORY_DSN"), "Database DSN"),
		redisURL:      fs.String("redis-url", os.Getenv("REPOGATE_REDIS_URL"), "Redis cache to invalidate after writes"),
		redisPassword: fs.String("redis-password", os.Getenv("REPOGATE_REDIS_PASSWORD"), "Redis password"),
	}
}

// open connects to the directory database
func (f storeFlags) open(ctx context.Context) (*directory.SQLStore, error) {
	if *f.dsn == "" {
		return nil, fmt.Errorf("-dsn is required")
	}
	db, err := directory.OpenDB(ctx, directory.DefaultConnectionConfig(*f.driver, *f.dsn))
	if err != nil {
		return nil, err
	}
	return directory.NewSQLStore(db, *f.driver), nil
}

// invalidate drops the shared Redis entries for email and site so running
// servers read the change on their next lookup. It is a no-op without
// -redis-url.
func (f storeFlags) invalidate(ctx context.Context, store directory.Directory, email string, site *directory.Site) error {
	if *f.redisURL == "" {
		return nil
	}
	client, err := directory.NewRedisClient(ctx, *f.redisURL, *f.redisPassword)
	if err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	defer client.Close()

	logger := observability.NewLogger(observability.WarnLevel, os.Stderr)
	directory.NewCachedDirectory(store, directory.CacheConfig{Redis: client}, logger, nil).
		Invalidate(ctx, email, site)
	return nil
}
