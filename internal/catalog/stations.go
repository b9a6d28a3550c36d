package catalog

import (
	"encoding/json"
	"log/slog"
	"os"
)

// defaultStations is the built-in weather station whitelist used when
// no mapping file is configured or the configured one cannot be read.
var defaultStations = map[string]string{
	"NY":   "New York Central Park",
	"CHI":  "Chicago Midway",
	"AUS":  "Austin Bergstrom",
	"MIA":  "Miami International",
	"DEN":  "Denver International",
	"PHIL": "Philadelphia International",
	"LAX":  "Los Angeles International",
}

// loadStations reads a station-code to station-name JSON mapping.
// A missing or malformed file falls back to the built-in set.
func loadStations(path string, logger *slog.Logger) map[string]string {
	if path == "" {
		return defaultStations
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("station map unreadable, using built-in set",
			"path", path,
			"error", err,
		)
		return defaultStations
	}

	var stations map[string]string
	if err := json.Unmarshal(data, &stations); err != nil || len(stations) == 0 {
		logger.Warn("station map invalid, using built-in set",
			"path", path,
			"error", err,
		)
		return defaultStations
	}
	return stations
}
