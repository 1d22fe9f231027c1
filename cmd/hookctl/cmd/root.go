package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dmcallister/wharfhook/internal/broadcast"
	"github.com/dmcallister/wharfhook/internal/config"
	"github.com/dmcallister/wharfhook/internal/db"
	"github.com/dmcallister/wharfhook/internal/registry"
	"github.com/dmcallister/wharfhook/internal/store"
)

var (
	cfgFile    string
	dbDSN      string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "WharfHook CLI - manage webhook endpoints and deliveries",
	Long: `WharfHook CLI (hookctl) is a command line tool for operating the
WharfHook webhook delivery service.

You can use it to register endpoints, rotate secrets, broadcast events,
and inspect delivery attempt history.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hookctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "", "Postgres DSN (defaults to DB_* environment variables)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "command timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hookctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("db") {
		if s := viper.GetString("db"); s != "" {
			dbDSN = s
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// deps bundles the service layers a command needs, plus a cleanup func.
type deps struct {
	cfg        config.Config
	registry   *registry.Registry
	deliveries store.Store
	broadcast  *broadcast.Broadcaster
	close      func()
}

// getDeps connects to Postgres and wires the registry, delivery store, and
// broadcaster the way the services do.
func getDeps(ctx context.Context) (*deps, error) {
	cfg := config.FromEnv()
	dsn := cfg.DSN()
	if dbDSN != "" {
		dsn = dbDSN
	}

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	reg := registry.New(registry.NewPostgresStore(pool), registry.Options{
		AllowPrivateHosts: cfg.Registry.AllowPrivateHosts,
		PrivateHostAllow:  cfg.Registry.PrivateHostAllow,
	})
	deliveries := store.NewPostgres(pool)

	// Wake messages are best effort: if nsqd is unreachable the dispatcher
	// still picks the deliveries up on its next poll.
	var producer *nsq.Producer
	if cfg.NSQ.Enabled {
		producer, err = nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create nsq producer: %w", err)
		}
	}
	var pub broadcast.Publisher
	if producer != nil {
		pub = producer
	}
	bc := broadcast.New(reg, deliveries, pub, cfg.NSQ.DeliveriesTopic, nil)

	cleanup := func() {
		if producer != nil {
			producer.Stop()
		}
		pool.Close()
	}
	return &deps{
		cfg:        cfg,
		registry:   reg,
		deliveries: deliveries,
		broadcast:  bc,
		close:      cleanup,
	}, nil
}

// cmdContext returns the context commands run under.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// printOutput prints any value as indented JSON.
func printOutput(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to format output: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
