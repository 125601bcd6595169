package vigilo

import (
	"path/filepath"
	"testing"
)

// setTestConfig shrinks the global config to test scale and restores it on
// cleanup.
func setTestConfig(t *testing.T) {
	t.Helper()
	orig := Config
	t.Cleanup(func() {
		Config = orig
		PostConfigHooks()
	})

	SetDefaultConfig()
	dir := t.TempDir()
	Config.DataDir = dir
	Config.LogPath = ""
	Config.Fetcher.NumFetchers = 4
	Config.Fetcher.NumParsers = 2
	Config.Fetcher.MaxDNSCacheEntries = 100
	Config.Fetcher.BlacklistPrivateIPs = false // tests fetch from loopback
	Config.Crawler.CrawlDelay = 0
	Config.Crawler.BatchSize = 50
	Config.Crawler.FetchQueueSize = 100
	Config.Crawler.DispatchCacheSize = 1000
	Config.Crawler.BloomBits = 1 << 16
	Config.Store.CrawlDB = filepath.Join(dir, "crawl.db")
	Config.Store.StorageDB = filepath.Join(dir, "storage.db")
	Config.Store.SearchDB = filepath.Join(dir, "search.db")
	PostConfigHooks()
}
