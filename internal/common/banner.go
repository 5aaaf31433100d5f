package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("StockPulse", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("store", config.Storage.Badger.Path).
		Str("csv_path", config.Ingestion.CSVPath).
		Str("schedule", config.Ingestion.Schedule).
		Msg("StockPulse starting")
}
