package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/mdstore/common"
	"github.com/ruteri/mdstore/config"
	"github.com/ruteri/mdstore/httpserver"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds the logger from the log flags. Flags that were not set
// fall back to the config file.
func SetupLogger(cCtx *cli.Context, cfg config.LogConfig) (log *slog.Logger) {
	logJSON := cfg.JSON || cCtx.Bool(LogJsonFlag.Name)
	logDebug := cfg.Debug || cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cfg.Service
	if cCtx.IsSet(LogServiceFlag.Name) || logService == "" {
		logService = cCtx.String(LogServiceFlag.Name)
	}

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, cfg config.ServerConfig) *httpserver.HTTPServerConfig {
	listenAddr := cfg.ListenAddr
	if cCtx.IsSet(ListenAddrFlag.Name) || listenAddr == "" {
		listenAddr = cCtx.String(ListenAddrFlag.Name)
	}
	drainDuration := time.Duration(cfg.DrainSeconds) * time.Second
	if cCtx.IsSet(DrainSecondsFlag.Name) {
		drainDuration = time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second
	}

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              cfg.Pprof || cCtx.Bool(PprofFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "path to a YAML config file",
	EnvVars: []string{"MDSTORE_CONFIG"},
}

var StorageFlag = &cli.StringFlag{
	Name:    "storage",
	Usage:   "comma-separated storage URIs (file://, s3://, vault://, badger://); overrides the config file",
	EnvVars: []string{"MDSTORE_STORAGE"},
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "mdstore",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	ConfigFlag,
	StorageFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
}
