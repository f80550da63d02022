package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/slurm-admin/slm/internal/config"
	"github.com/slurm-admin/slm/internal/log"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string        // /default/config/path/slm on given OS
	configPath     string        // config file actually used (if any)
	conf           config.Config // resolved configuration

	flagConfig     string // value of --config flag
	flagVerbose    bool   // value of --verbose flag
	flagWebhook    string
	flagNoDB       bool
	flagAPIURL     string
	flagDBHost     string
	flagDBPort     int
	flagDBUser     string
	flagDBPassword string
	flagDBName     string

	flagSbatchArgs string
	flagHost       string
	flagPort       int
	flagEvents     bool
	flagLimit      int

	// runExit is the exit code of the supervised child, passed through as
	// the exit code of slm run.
	runExit int
)

func init() {
	if d, err := os.UserConfigDir(); err == nil {
		userConfigPath = filepath.Join(d, "slm")
	}
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file to load - default is slm.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&flagWebhook, "webhook", "w", "", "notification webhook url")
	rootCmd.PersistentFlags().BoolVar(&flagNoDB, "no-db", false, "disable job tracking for this invocation")
	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "relay service url used from compute nodes, e.g. http://login-node:9008")
	rootCmd.PersistentFlags().StringVar(&flagDBHost, "db-host", "", "database host")
	rootCmd.PersistentFlags().IntVar(&flagDBPort, "db-port", 5432, "database port")
	rootCmd.PersistentFlags().StringVar(&flagDBUser, "db-user", "", "database user")
	rootCmd.PersistentFlags().StringVar(&flagDBPassword, "db-password", "", "database password")
	rootCmd.PersistentFlags().StringVar(&flagDBName, "db-name", "", "database name")

	// the wrapped command owns everything after its name
	runCmd.Flags().SetInterspersed(false)

	submitCmd.Flags().StringVar(&flagSbatchArgs, "sbatch-args", "", "additional arguments passed to sbatch, whitespace separated")
	serveCmd.Flags().StringVar(&flagHost, "host", "0.0.0.0", "address to bind")
	serveCmd.Flags().IntVar(&flagPort, "port", 9008, "port to bind")
	queryCmd.Flags().BoolVar(&flagEvents, "events", false, "show the event log instead of the job record")
	queryCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum number of rows to show")

	// never print messages
	rootCmd.SilenceErrors = true

	// resolve the config, setup logging
	rootCmd.PersistentPreRunE = initSlm

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	configCmd.AddCommand(configInitCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("slm failed", "err", err)
		os.Exit(1)
	}
	os.Exit(runExit)
}

var rootCmd = &cobra.Command{
	Use:          "slm",
	Short:        "Slurm job lifecycle supervisor",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run -- command [args...]",
	Short: "run executes a command under lifecycle supervision",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRun,
}

var submitCmd = &cobra.Command{
	Use:   "submit script",
	Short: "submit hands a batch script to sbatch and records the submission",
	Args:  cobra.ExactArgs(1),
	RunE:  doSubmit,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the login node API service",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

var queryCmd = &cobra.Command{
	Use:   "query [job-id]",
	Short: "query shows recorded jobs and their events",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doQuery,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config manages the slm configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "init writes a commented default slm.yaml to the working directory",
	Args:  cobra.NoArgs,
	RunE:  doConfigInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of slm",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("slm: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("slm: %s\n", info.Main.Version)
		fmt.Printf("go:  %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
	},
}

func initSlm(cmd *cobra.Command, _ []string) error {
	explicit := flagConfig
	if explicit == "" {
		explicit = os.Getenv("SLM_CONFIG")
	}

	cfg, used, err := config.Load(explicit)
	if err != nil {
		return err
	}

	// Flags given on the command line win over environment and file.
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("webhook") {
		cfg.Webhook = flagWebhook
	}
	if flags.Changed("api-url") {
		cfg.APIURL = flagAPIURL
	}
	if flags.Changed("no-db") {
		cfg.NoDB = flagNoDB
	}
	if flags.Changed("db-host") {
		cfg.DB.Host = flagDBHost
	}
	if flags.Changed("db-port") {
		cfg.DB.Port = flagDBPort
	}
	if flags.Changed("db-user") {
		cfg.DB.User = flagDBUser
	}
	if flags.Changed("db-password") {
		cfg.DB.Password = flagDBPassword
	}
	if flags.Changed("db-name") {
		cfg.DB.Name = flagDBName
	}
	if flagVerbose {
		cfg.Verbose = true
	}

	conf = cfg
	configPath = used

	slog.SetDefault(log.New(conf.Verbose))
	slog.Debug("slm configured", "config_file", configPath)
	return nil
}
