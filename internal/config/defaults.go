package config

const (
	defaultConfigPath = "~/.config/warthog/config.toml"

	defaultReplayDir  = "~/WarThunder/Replays"
	defaultScrapeDir  = "~/.local/share/warthog/scrapes"
	defaultCorpusDir  = "~/.local/share/warthog/corpus"
	defaultDataDir    = "~/.local/share/warthog"
	defaultCatalogDir = "~/.cache/warthog/catalog"
	defaultLogDir     = "~/.local/share/warthog/logs"

	defaultFeedBaseURL           = "https://raw.githubusercontent.com/gszabi99/War-Thunder-Datamine"
	defaultAPIBaseURL            = "https://api.github.com/repos/gszabi99/War-Thunder-Datamine"
	defaultFetchAttempts         = 4
	defaultFetchBackoffMS        = 500
	defaultFetchMaxBackoffMS     = 8000
	defaultRequestTimeoutSeconds = 30

	defaultWorkers         = 1
	defaultCorpusLayout    = CorpusLayoutFiles
	defaultUnpacker        = UnpackerExternal
	defaultUnpackerBinary  = "wt_ext_cli"
	defaultUnpackTimeout   = 60
	defaultDefaultGameMode = "realistic"

	defaultStoreDriver   = StoreDriverSQLite
	defaultBloomCapacity = 500000
	defaultBloomFPRate   = 0.001

	defaultLogFormat = "auto"
	defaultLogLevel  = "info"
)

// Corpus layouts.
const (
	CorpusLayoutFiles = "files"
	CorpusLayoutJSONL = "jsonl"
)

// Results unpackers.
const (
	UnpackerExternal = "external"
	UnpackerJSON     = "json"
)

// Store drivers.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ReplayDir:  defaultReplayDir,
			ScrapeDir:  defaultScrapeDir,
			CorpusDir:  defaultCorpusDir,
			DataDir:    defaultDataDir,
			CatalogDir: defaultCatalogDir,
			LogDir:     defaultLogDir,
		},
		Catalog: Catalog{
			FeedBaseURL:           defaultFeedBaseURL,
			APIBaseURL:            defaultAPIBaseURL,
			FetchAttempts:         defaultFetchAttempts,
			FetchBackoffMS:        defaultFetchBackoffMS,
			FetchMaxBackoffMS:     defaultFetchMaxBackoffMS,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Ingest: Ingest{
			Workers:         defaultWorkers,
			CorpusLayout:    defaultCorpusLayout,
			Unpacker:        defaultUnpacker,
			UnpackerBinary:  defaultUnpackerBinary,
			UnpackTimeout:   defaultUnpackTimeout,
			DefaultGameMode: defaultDefaultGameMode,
		},
		Store: Store{
			Driver:        defaultStoreDriver,
			BloomCapacity: defaultBloomCapacity,
			BloomFPRate:   defaultBloomFPRate,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
