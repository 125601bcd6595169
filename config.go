package vigilo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config is the configuration instance the rest of vigilo should access for
// global configuration values. See CrawlerConfig for available config members.
var Config CrawlerConfig

// ConfigName is the path (can be relative or absolute) to the config file that
// should be read.
var ConfigName = "vigilo.yaml"

func init() {
	err := readConfig()
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory") {
			log.Infof("Did not find config file %v, continuing with defaults", ConfigName)
		} else {
			panic(err.Error())
		}
	}
}

// CrawlerConfig defines the available global configuration parameters for
// vigilo. It reads values straight from the config file (vigilo.yaml by
// default).
type CrawlerConfig struct {
	UserAgent string `yaml:"user_agent"`
	DataDir   string `yaml:"data_dir"`
	LogPath   string `yaml:"log_path"`

	Fetcher struct {
		NumFetchers             int      `yaml:"num_fetchers"`
		NumParsers              int      `yaml:"num_parsers"`
		ConnectTimeout          string   `yaml:"connect_timeout"`
		ReadTimeout             string   `yaml:"read_timeout"`
		MaxHTTPContentSizeBytes int64    `yaml:"max_http_content_size_bytes"`
		MaxTextChars            int      `yaml:"max_text_chars"`
		AcceptFormats           []string `yaml:"accept_formats"`
		MaxDNSCacheEntries      int      `yaml:"max_dns_cache_entries"`
		PurgeSidList            []string `yaml:"purge_sid_list"`
		BlacklistPrivateIPs     bool     `yaml:"blacklist_private_ips"`
	} `yaml:"fetcher"`

	Crawler struct {
		CrawlDelay         float64 `yaml:"crawl_delay"`
		CrawlEpoch         int     `yaml:"crawl_epoch"`
		MaxPagesPerDomain  int     `yaml:"max_pages_per_domain"`
		MaxRetries         int     `yaml:"max_retries"`
		BatchSize          int     `yaml:"batch_size"`
		FetchQueueSize     int     `yaml:"fetch_queue_size"`
		DispatchCacheSize  int     `yaml:"dispatch_cache_size"`
		ReserveTimeout     string  `yaml:"reserve_timeout"`
		BloomBits          uint64  `yaml:"bloom_bits"`
		BloomHashes        int     `yaml:"bloom_hashes"`
		BloomCheckpointSec int     `yaml:"bloom_checkpoint_sec"`
	} `yaml:"crawler"`

	Store struct {
		CrawlDB        string `yaml:"crawl_db"`
		StorageDB      string `yaml:"storage_db"`
		SearchDB       string `yaml:"search_db"`
		CheckpointSec  int    `yaml:"checkpoint_sec"`
		WALTruncateMB  int64  `yaml:"wal_truncate_mb"`
		MmapSizeBytes  int64  `yaml:"mmap_size_bytes"`
		CacheSizeKB    int    `yaml:"cache_size_kb"`
		BusyTimeoutSec int    `yaml:"busy_timeout_sec"`
	} `yaml:"store"`

	Indexer struct {
		BatchSize        int    `yaml:"batch_size"`
		RecycleConnEvery int    `yaml:"recycle_conn_every"`
		StateFile        string `yaml:"state_file"`
	} `yaml:"indexer"`

	Console struct {
		Port           int `yaml:"port"`
		RateLimitMax   int `yaml:"rate_limit_max"`
		RateLimitSec   int `yaml:"rate_limit_sec"`
		PerPage        int `yaml:"per_page"`
		CandidatePool  int `yaml:"candidate_pool"`
		MaxQueryTerms  int `yaml:"max_query_terms"`
		MaxQueryLength int `yaml:"max_query_length"`
	} `yaml:"console"`
}

// SetDefaultConfig resets the Config object to default values, regardless of
// what was set by any configuration file.
func SetDefaultConfig() {
	// NOTE: go-yaml does not overwrite sequence values, it appends to them,
	// so readConfig nils each list and restores the default afterward if the
	// file left it empty.

	Config.UserAgent = "Vigilo/0.2 (research crawler; crawler@plootohh.net)"
	Config.DataDir = "data"
	Config.LogPath = "data/vigilo.log"

	Config.Fetcher.NumFetchers = 200
	Config.Fetcher.NumParsers = 75
	Config.Fetcher.ConnectTimeout = "3s"
	Config.Fetcher.ReadTimeout = "10s"
	Config.Fetcher.MaxHTTPContentSizeBytes = 6 * 1024 * 1024
	Config.Fetcher.MaxTextChars = 100000
	Config.Fetcher.AcceptFormats = []string{"text/html"}
	Config.Fetcher.MaxDNSCacheEntries = 20000
	Config.Fetcher.PurgeSidList = []string{"jsessionid", "phpsessid", "sid", "sessionid"}
	Config.Fetcher.BlacklistPrivateIPs = true

	Config.Crawler.CrawlDelay = 0.5
	Config.Crawler.CrawlEpoch = 1
	Config.Crawler.MaxPagesPerDomain = 10000
	Config.Crawler.MaxRetries = 2
	Config.Crawler.BatchSize = 1000
	Config.Crawler.FetchQueueSize = 5000
	Config.Crawler.DispatchCacheSize = 20000
	Config.Crawler.ReserveTimeout = "15m"
	Config.Crawler.BloomBits = 100000000
	Config.Crawler.BloomHashes = 7
	Config.Crawler.BloomCheckpointSec = 300

	Config.Store.CrawlDB = "data/crawl.db"
	Config.Store.StorageDB = "data/storage.db"
	Config.Store.SearchDB = "data/search.db"
	Config.Store.CheckpointSec = 60
	Config.Store.WALTruncateMB = 500
	Config.Store.MmapSizeBytes = 30000000000
	Config.Store.CacheSizeKB = 64000
	Config.Store.BusyTimeoutSec = 60

	Config.Indexer.BatchSize = 2500
	Config.Indexer.RecycleConnEvery = 100
	Config.Indexer.StateFile = "data/indexer_state.txt"

	Config.Console.Port = 8080
	Config.Console.RateLimitMax = 30
	Config.Console.RateLimitSec = 60
	Config.Console.PerPage = 20
	Config.Console.CandidatePool = 500
	Config.Console.MaxQueryTerms = 7
	Config.Console.MaxQueryLength = 150
}

// ReadConfigFile sets a new path to find the vigilo yaml config file and
// forces a reload of the config.
func ReadConfigFile(path string) error {
	ConfigName = path
	return readConfig()
}

// BloomHotPath and BloomColdPath locate the bloom filter checkpoint files
// inside the configured data directory.
func BloomHotPath() string { return filepath.Join(Config.DataDir, "bloom_hot.bin") }

// BloomColdPath is documented on BloomHotPath.
func BloomColdPath() string { return filepath.Join(Config.DataDir, "bloom_cold.bin") }

func assertConfigInvariants() error {
	var errs []string

	if Config.Fetcher.NumFetchers < 1 {
		errs = append(errs, "Fetcher.NumFetchers must be greater than 0")
	}
	if Config.Fetcher.NumParsers < 1 {
		errs = append(errs, "Fetcher.NumParsers must be greater than 0")
	}
	if Config.Fetcher.MaxHTTPContentSizeBytes < 1 {
		errs = append(errs, "Fetcher.MaxHTTPContentSizeBytes must be greater than 0")
	}
	if Config.Crawler.BatchSize < 1 {
		errs = append(errs, "Crawler.BatchSize must be greater than 0")
	}
	if Config.Crawler.FetchQueueSize < 2 {
		errs = append(errs, "Crawler.FetchQueueSize must be at least 2")
	}
	if Config.Crawler.BloomBits < 8 {
		errs = append(errs, "Crawler.BloomBits must be at least 8")
	}
	if Config.Crawler.BloomHashes < 1 {
		errs = append(errs, "Crawler.BloomHashes must be greater than 0")
	}

	for _, d := range []struct{ name, val string }{
		{"Fetcher.ConnectTimeout", Config.Fetcher.ConnectTimeout},
		{"Fetcher.ReadTimeout", Config.Fetcher.ReadTimeout},
		{"Crawler.ReserveTimeout", Config.Crawler.ReserveTimeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			errs = append(errs, fmt.Sprintf("%s failed to parse: %v", d.name, err))
		}
	}

	if len(errs) > 0 {
		em := ""
		for _, err := range errs {
			log.Errorf("Config Error: %v", err)
			em += "\t"
			em += err
			em += "\n"
		}
		return fmt.Errorf("Config Error:\n%v", em)
	}

	return nil
}

func readConfig() error {
	SetDefaultConfig()

	data, err := os.ReadFile(ConfigName)
	if err != nil {
		return err
	}

	// See NOTE in SetDefaultConfig regarding sequence values
	Config.Fetcher.AcceptFormats = []string{}
	Config.Fetcher.PurgeSidList = []string{}

	err = yaml.Unmarshal(data, &Config)
	if err != nil {
		return fmt.Errorf("Failed to unmarshal yaml from config file (%v): %v", ConfigName, err)
	}

	// See NOTE in SetDefaultConfig regarding sequence values
	if len(Config.Fetcher.AcceptFormats) == 0 {
		Config.Fetcher.AcceptFormats = []string{"text/html"}
	}
	if len(Config.Fetcher.PurgeSidList) == 0 {
		Config.Fetcher.PurgeSidList = []string{"jsessionid", "phpsessid", "sid", "sessionid"}
	}

	err = assertConfigInvariants()
	if err == nil {
		log.Infof("Loaded config file %v", ConfigName)
		PostConfigHooks()
	}
	return err
}

// postConfigHooks run every time the config is (re)loaded so that derived
// state (ex. the canonicaliser's purge regexp) stays in sync.
var postConfigHooks []func() error

// PostConfigHooks runs all registered post-config hooks. It is called
// automatically after a successful config load; tests that mutate Config
// directly should call it themselves.
func PostConfigHooks() {
	for _, hook := range postConfigHooks {
		if err := hook(); err != nil {
			panic(err.Error())
		}
	}
}
