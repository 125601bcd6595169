/*
Package cmd provides the vigilo command line interface.

A binary that uses the stock engine requires simply:

	func main() {
		cmd.Execute()
	}

cmd.Execute() blocks until the requested process has completed (usually by
being shut down gracefully via SIGINT).
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/console"
	"github.com/plootohh/vigilo/indexer"
	"github.com/plootohh/vigilo/monitor"
	"github.com/plootohh/vigilo/store"
)

// Execute runs the command specified by the command line.
func Execute() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCommand *cobra.Command

// config is potentially set by the persistent --config flag.
var config string

func initCommand() {
	if config != "" {
		if err := vigilo.ReadConfigFile(config); err != nil {
			panic(err.Error())
		}
	}

	if err := os.MkdirAll(vigilo.Config.DataDir, 0755); err != nil {
		fatalf("Could not create data directory %v: %v", vigilo.Config.DataDir, err)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	if vigilo.Config.LogPath != "" {
		os.MkdirAll(filepath.Dir(vigilo.Config.LogPath), 0755)
		f, err := os.OpenFile(vigilo.Config.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		} else {
			log.Warnf("Could not open log file %v: %v", vigilo.Config.LogPath, err)
		}
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Printf(format, args...)
	fmt.Println()
	os.Exit(1)
}

// waitForInterrupt blocks until SIGINT or SIGTERM.
func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func init() {
	rootCommand = &cobra.Command{
		Use:   "vigilo",
		Short: "vigilo web crawler and search stack",
	}
	rootCommand.PersistentFlags().StringVarP(&config,
		"config", "c", "", "path to a config file to load")

	var noSeeds bool
	crawlCommand := &cobra.Command{
		Use:   "crawl",
		Short: "start the crawl engine",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			crawl, err := store.OpenCrawl(store.ModeWriter)
			if err != nil {
				fatalf("Failed opening crawl store: %v", err)
			}
			defer crawl.Close()
			if err := store.InitCrawlSchema(crawl.DB); err != nil {
				fatalf("%v", err)
			}

			storage, err := store.OpenStorage(store.ModeWriter)
			if err != nil {
				fatalf("Failed opening storage store: %v", err)
			}
			defer storage.Close()
			if err := store.InitStorageSchema(storage.DB); err != nil {
				fatalf("%v", err)
			}

			engine, err := vigilo.NewEngine(crawl, storage)
			if err != nil {
				fatalf("Failed creating engine: %v", err)
			}

			if !noSeeds {
				pending, _ := crawl.FrontierCount(vigilo.StatusPending)
				done, _ := crawl.FrontierCount(vigilo.StatusDone)
				if pending == 0 && done == 0 {
					log.Infof("Frontier is empty, injecting %v built-in seeds", len(vigilo.ManualSeeds))
					engine.InjectSeeds(vigilo.ManualSeeds)
				}
			}

			go engine.Start()
			waitForInterrupt()
			engine.Stop()
			engine.Wait()
		},
	}
	crawlCommand.Flags().BoolVarP(&noSeeds, "no-seeds", "S", false,
		"do not inject built-in seeds into an empty frontier")
	rootCommand.AddCommand(crawlCommand)

	indexerCommand := &cobra.Command{
		Use:   "indexer",
		Short: "run the offline indexer until interrupted",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			ix, err := indexer.New()
			if err != nil {
				fatalf("Failed creating indexer: %v", err)
			}

			go func() {
				waitForInterrupt()
				ix.Stop()
			}()

			if err := ix.Run(); err != nil {
				fatalf("Indexer failed: %v", err)
			}
		},
	}
	rootCommand.AddCommand(indexerCommand)

	var authorityZip string
	var seedTop int64
	initDBCommand := &cobra.Command{
		Use:   "initdb",
		Short: "create all schemas and load seeds and authority ranks",
		Long: `Initdb creates the crawl, storage and search schemas (rebuilding the
FTS index), injects the built-in seed list, and optionally imports a
Tranco-style authority CSV zip, seeding the top-ranked domains.`,
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			crawl, err := store.OpenCrawl(store.ModeWriter)
			if err != nil {
				fatalf("Failed opening crawl store: %v", err)
			}
			defer crawl.Close()
			if err := store.InitCrawlSchema(crawl.DB); err != nil {
				fatalf("%v", err)
			}

			storage, err := store.OpenStorage(store.ModeWriter)
			if err != nil {
				fatalf("Failed opening storage store: %v", err)
			}
			if err := store.InitStorageSchema(storage.DB); err != nil {
				fatalf("%v", err)
			}
			storage.Close()

			search, err := store.OpenSearchDetached(store.ModeWriter)
			if err != nil {
				fatalf("Failed opening search store: %v", err)
			}
			if err := store.InitSearchSchema(search.DB); err != nil {
				fatalf("%v", err)
			}
			search.Close()

			// The rebuilt index is empty, so the indexer starts over from rowid 0.
			if err := os.WriteFile(vigilo.Config.Indexer.StateFile, []byte("0"), 0644); err != nil {
				log.Warnf("Failed resetting indexer watermark: %v", err)
			}

			added, err := crawl.InsertSeeds(vigilo.ManualSeeds)
			if err != nil {
				fatalf("Failed injecting seeds: %v", err)
			}
			log.Infof("Injected %v manual seeds", added)

			if authorityZip != "" {
				ranks, seeds, err := crawl.ImportAuthority(authorityZip, 1000000, seedTop)
				if err != nil {
					fatalf("Authority import failed: %v", err)
				}
				log.Infof("Authority import complete: %v ranks, %v seeds", ranks, seeds)
			}
		},
	}
	initDBCommand.Flags().StringVarP(&authorityZip, "authority", "a", "",
		"path to a Tranco-style top-1m CSV zip to import")
	initDBCommand.Flags().Int64VarP(&seedTop, "seed-top", "t", 5000,
		"seed the homepage of domains ranked at or above this")
	rootCommand.AddCommand(initDBCommand)

	monitorCommand := &cobra.Command{
		Use:   "monitor",
		Short: "read-only terminal view of the pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			log.SetOutput(io.Discard) // the monitor owns the terminal

			m, err := monitor.New()
			if err != nil {
				fatalf("Failed creating monitor: %v", err)
			}
			go func() {
				waitForInterrupt()
				m.Stop()
			}()
			m.Run()
		},
	}
	rootCommand.AddCommand(monitorCommand)

	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "serve the search API",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			go func() {
				waitForInterrupt()
				console.Stop()
			}()
			console.Run()
		},
	}
	rootCommand.AddCommand(serveCommand)

	var seedURL string
	seedCommand := &cobra.Command{
		Use:   "seed",
		Short: "add a seed URL to the frontier",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			if seedURL == "" {
				fatalf("Seed URL needed to execute; add one with --url/-u")
			}

			crawl, err := store.OpenCrawl(store.ModeWriter)
			if err != nil {
				fatalf("Failed opening crawl store: %v", err)
			}
			defer crawl.Close()

			added, err := crawl.InsertSeeds([]string{seedURL})
			if err != nil {
				fatalf("Failed inserting seed: %v", err)
			}
			if added == 0 {
				fmt.Printf("%v was already in the frontier\n", seedURL)
			} else {
				fmt.Printf("Added %v\n", seedURL)
			}
		},
	}
	seedCommand.Flags().StringVarP(&seedURL, "url", "u", "", "URL to add as a seed")
	rootCommand.AddCommand(seedCommand)

	var outfile string
	schemaCommand := &cobra.Command{
		Use:   "schema",
		Short: "output the store schemas",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()
			if outfile == "" {
				fmt.Print(store.GetSchema())
				return
			}
			out, err := os.Create(outfile)
			if err != nil {
				panic(err.Error())
			}
			defer out.Close()
			fmt.Fprint(out, store.GetSchema())
		},
	}
	schemaCommand.Flags().StringVarP(&outfile, "out", "o", "", "file to write output to")
	rootCommand.AddCommand(schemaCommand)

	flushWALCommand := &cobra.Command{
		Use:   "flushwal",
		Short: "force a TRUNCATE checkpoint on every store",
		Run: func(cmd *cobra.Command, args []string) {
			initCommand()

			for _, path := range []string{
				vigilo.Config.Store.CrawlDB,
				vigilo.Config.Store.StorageDB,
				vigilo.Config.Store.SearchDB,
			} {
				before := store.WALSizeMB(path)
				db, err := store.Open(path, store.ModeWriter)
				if err != nil {
					fmt.Printf("%v: %v\n", path, err)
					continue
				}
				err = store.FlushWAL(db)
				db.Close()
				if err != nil {
					fmt.Printf("%v: checkpoint failed: %v\n", path, err)
					continue
				}
				fmt.Printf("%v: WAL %vMB -> %vMB\n", path, before, store.WALSizeMB(path))
			}
		},
	}
	rootCommand.AddCommand(flushWALCommand)
}
