// Gray Logic HAP Bridge - capability to HomeKit accessory mapping
//
// This is the main entry point for the Gray Logic HAP bridge. The bridge:
//   - Discovers devices announced over MQTT (plus static devices from config)
//   - Maps their capabilities onto HomeKit services using a YAML rule table
//   - Keeps characteristics and device state in sync in both directions
//   - Exposes accessories, devices and diagnostics over a REST/WebSocket API
//
// Run with --print-token <subject> to issue an API access token and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-hap/migrations"

	"github.com/nerrad567/gray-logic-hap/internal/api"
	"github.com/nerrad567/gray-logic-hap/internal/bridge"
	"github.com/nerrad567/gray-logic-hap/internal/capability"
	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hap/internal/mapping"
	"github.com/nerrad567/gray-logic-hap/internal/rules"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options are the command line flags.
type options struct {
	configPath  string
	printToken  string
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("graylogic-hap %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if opts.printToken != "" {
		if err := printToken(opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the command line.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("graylogic-hap", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	fs.StringVar(&opts.printToken, "print-token", "", "issue an API access token for `subject` and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// The --config flag wins, then GRAYLOGIC_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// printToken loads the config and writes a signed access token to out.
func printToken(opts options, out io.Writer) error {
	cfg, err := config.Load(getConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, expires, err := api.IssueToken(cfg.Security.JWT, opts.printToken, time.Now())
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintf(out, "%s\n# expires %s\n", token, expires.UTC().Format(time.RFC3339))
	return nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command line flags
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic HAP bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load mapping rules before touching any infrastructure
	ruleSet := rules.NewRegistry()
	ruleSet.SetLogger(log.Component("rules"))
	count, err := rules.LoadInto(ruleSet, cfg.Mapping.RulesFile)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	log.Info("mapping rules loaded", "path", cfg.Mapping.RulesFile, "rules", count)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB is optional; a nil *Client must not become a non-nil interface
	var influxClient *influxdb.Client
	var telemetry bridge.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub is created first so the bridge can broadcast into it
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	hapBridge, err := bridge.New(bridge.Options{
		Mapping:        mappingOptions(cfg.Mapping, ruleSet, log.Component("mapping")),
		Registry:       registry,
		Transport:      mqttClient,
		Broadcaster:    hub,
		Telemetry:      telemetry,
		ReadTimeout:    cfg.Devices.ReadTimeout(),
		ErrorThreshold: cfg.Mapping.ErrorThreshold,
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		hapBridge.Stop()
	}()

	if err := hapBridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	addStaticDevices(ctx, hapBridge, cfg.Devices.Static, log)
	log.Info("bridge started",
		"devices", hapBridge.DeviceCount(),
		"accessories", len(hapBridge.Engine().Accessories()),
	)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Bridge:   hapBridge,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API server, bridge, hub, InfluxDB, MQTT, database.

	log.Info("Gray Logic HAP bridge stopped")
	return nil
}

// mappingOptions converts the mapping config section into engine options.
func mappingOptions(cfg config.MappingConfig, ruleSet *rules.Registry, log mapping.Logger) mapping.Options {
	incompat := make([]mapping.Incompatibility, 0, len(cfg.Incompatibilities))
	for _, inc := range cfg.Incompatibilities {
		incompat = append(incompat, mapping.Incompatibility{
			Secondary:       inc.Secondary,
			PrimaryContains: inc.PrimaryContains,
		})
	}
	return mapping.Options{
		Rules: ruleSet,
		ObserverRetry: capability.RetryPolicy{
			InitialDelay: cfg.ObserverInitialDelay(),
			MaxDelay:     cfg.ObserverMaxDelay(),
			MaxRetries:   cfg.Observer.MaxRetries,
		},
		MaxErrors:         cfg.State.MaxErrors,
		RetryDelay:        cfg.StateRetryDelay(),
		Incompatibilities: incompat,
		VariantMarker:     cfg.VariantMarker,
		Logger:            log,
	}
}

// staticDescriptor converts a static device from config.
func staticDescriptor(sd config.StaticDevice) device.Descriptor {
	desc := device.Descriptor{
		ID:           sd.ID,
		Name:         sd.Name,
		Class:        sd.Class,
		VirtualClass: sd.VirtualClass,
		DriverID:     sd.DriverID,
		Zone:         sd.Zone,
		Capabilities: append([]string(nil), sd.Capabilities...),
		Values:       sd.Values,
	}
	for _, ui := range sd.UI {
		desc.UI = append(desc.UI, device.UIComponent{
			ID:           ui.ID,
			Capabilities: append([]string(nil), ui.Capabilities...),
		})
	}
	return desc
}

// addStaticDevices maps the in-process devices. A device that fails to map
// is logged and skipped; the bridge keeps its unmappable verdict.
func addStaticDevices(ctx context.Context, b *bridge.Bridge, static []config.StaticDevice, log *logging.Logger) {
	for _, sd := range static {
		if _, err := b.AddDevice(ctx, device.NewMemoryDevice(staticDescriptor(sd))); err != nil {
			log.Warn("static device not mapped", "device_id", sd.ID, "error", err)
			continue
		}
		log.Debug("static device mapped", "device_id", sd.ID)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
