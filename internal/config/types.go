package config

import (
	"path/filepath"
)

// Config represents the full marketmill configuration document.
type Config struct {
	Paths       Paths       `yaml:"paths"`
	Engine      Engine      `yaml:"engine"`
	MarketHours MarketHours `yaml:"market_hours"`
	Fetch       Fetch       `yaml:"fetch"`
}

// Paths locates the raw data sources and the build output directory.
type Paths struct {
	DataSources string `yaml:"data_sources" validate:"required"`
	Output      string `yaml:"output" validate:"required"`
}

// Engine holds settings applied to every query engine connection.
type Engine struct {
	MemoryLimit string `yaml:"memory_limit" validate:"required,mem_limit"`
	// Threads caps engine parallelism. Zero means one thread per CPU.
	Threads int `yaml:"threads" validate:"min=0,max=256"`
}

// MarketHours bounds the intraday bars kept by the price build. Hours are
// inclusive on both ends: 9..15 keeps the 9:00 through 15:59 bars.
type MarketHours struct {
	OpenHour  int `yaml:"open_hour" validate:"min=0,max=23"`
	CloseHour int `yaml:"close_hour" validate:"min=0,max=23"`
}

// Fetch configures the raw-data downloaders.
type Fetch struct {
	MarketCap     MarketCapFetch     `yaml:"market_cap"`
	InsiderTrades InsiderTradesFetch `yaml:"insider_trades"`
}

// MarketCapFetch configures the FMP market-cap downloader.
type MarketCapFetch struct {
	Endpoint string `yaml:"endpoint" validate:"required,url"`
	// WindowDays is the calendar-day span of one paginated request; date
	// ranges longer than this are fetched in windows and merged.
	WindowDays int    `yaml:"window_days" validate:"min=1"`
	Workers    int    `yaml:"workers" validate:"min=1,max=64"`
	FromDate   string `yaml:"from_date" validate:"required,datetime=2006-01-02"`
}

// InsiderTradesFetch configures the SEC Form 4 bulk downloader.
type InsiderTradesFetch struct {
	IndexURL string `yaml:"index_url" validate:"required,url"`
	BaseURL  string `yaml:"base_url" validate:"required,url"`
}

// Default returns the built-in configuration, matching a repository layout
// with data_sources/ and db/ beside each other.
func Default() *Config {
	return &Config{
		Paths: Paths{
			DataSources: "data_sources",
			Output:      "db",
		},
		Engine: Engine{
			MemoryLimit: "12GB",
			Threads:     0,
		},
		MarketHours: MarketHours{
			OpenHour:  9,
			CloseHour: 15,
		},
		Fetch: Fetch{
			MarketCap: MarketCapFetch{
				Endpoint:   "https://financialmodelingprep.com/stable/historical-market-capitalization",
				WindowDays: 5000,
				Workers:    20,
				FromDate:   "1999-01-01",
			},
			InsiderTrades: InsiderTradesFetch{
				IndexURL: "https://api.sec-api.io/bulk/form-4/index.json",
				BaseURL:  "https://api.sec-api.io/bulk/form-4",
			},
		},
	}
}

// StocksZipDir returns the directory holding raw stock ZIP archives.
func (c *Config) StocksZipDir() string {
	return filepath.Join(c.Paths.DataSources, "stocks", "data")
}

// ETFsZipDir returns the directory holding raw ETF ZIP archives.
func (c *Config) ETFsZipDir() string {
	return filepath.Join(c.Paths.DataSources, "etfs", "data")
}

// MarketCapDir returns the directory holding downloaded market-cap CSVs.
func (c *Config) MarketCapDir() string {
	return filepath.Join(c.Paths.DataSources, "market_cap", "data")
}

// MarketCapTempDir returns the scratch directory of the market-cap fetcher.
func (c *Config) MarketCapTempDir() string {
	return filepath.Join(c.Paths.DataSources, "market_cap", "temp")
}

// MarketCapEnvPath returns the dotenv file read for the FMP API token.
func (c *Config) MarketCapEnvPath() string {
	return filepath.Join(c.Paths.DataSources, "market_cap", ".env")
}

// InsiderTradesDir returns the directory holding downloaded Form 4 archives.
func (c *Config) InsiderTradesDir() string {
	return filepath.Join(c.Paths.DataSources, "insider_trades", "data")
}

// InsiderTradesTempDir returns the scratch directory of the Form 4 fetcher.
func (c *Config) InsiderTradesTempDir() string {
	return filepath.Join(c.Paths.DataSources, "insider_trades", "temp")
}

// InsiderTradesEnvPath returns the dotenv file read for the SEC API token.
func (c *Config) InsiderTradesEnvPath() string {
	return filepath.Join(c.Paths.DataSources, "insider_trades", ".env")
}

// ManifestPath returns the location of the build manifest document.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.Output, ".build_manifest.json")
}
