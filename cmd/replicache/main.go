package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	rootCmd = &cobra.Command{
		Use:               "replicache",
		Short:             "A Replicache server",
		Long:              "Replicache serves push and pull for Replicache clients and inspects its stores.",
		PersistentPreRunE: rootPreRun,
		PersistentPostRun: rootPostRun,
		SilenceUsage:      true,
	}

	logFile   = ""
	logLevel  = "info"
	logWriter io.WriteCloser

	configFile = "replicache.hcl"
	noConfig   = false

	storeName = "memory"
	dataDir   = "testdata"
	spaceID   = "default"
	clientID  = uuid.NewString()

	cfgVars   = map[string]*pflag.Flag{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := rootCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging; standard error if empty")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	fs.StringVar(&storeName, "store", storeName, "store to use: memory, pebble, bbolt, or badger")
	cfgVars["store"] = fs.Lookup("store")

	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing the store")
	cfgVars["data"] = fs.Lookup("data")

	fs.StringVar(&spaceID, "space", spaceID, "`space` used by the memory store")
	cfgVars["space"] = fs.Lookup("space")

	fs.StringVar(&clientID, "client", clientID, "client `id` transactions run as; random if unset")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	if configFile != "" && !noConfig {
		err := loadConfig()
		if err != nil {
			return fmt.Errorf("replicache: %s", err)
		}
	}

	if logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("replicache: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("replicache: %s", err)
	}
	log.SetLevel(ll)

	log.WithFields(log.Fields{
		"pid":     os.Getpid(),
		"command": cmd.Name(),
	}).Debug("replicache starting")
	return nil
}

func rootPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Debug("replicache done")

	if logWriter != nil {
		logWriter.Close()
	}
}

// loadConfig sets every flag named in the config file that was not given on
// the command line. A missing default config file is not an error.
func loadConfig() error {
	b, err := os.ReadFile(configFile)
	if err != nil {
		if _, ok := usedFlags["config-file"]; !ok && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	cfg := map[string]interface{}{}
	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}

	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok || flg == nil {
			return fmt.Errorf("%s is not a config variable", name)
		}
		if _, ok := usedFlags[flg.Name]; ok {
			continue
		}
		err := flg.Value.Set(fmt.Sprintf("%v", val))
		if err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
	}

	return nil
}
