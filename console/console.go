/*
Package console serves vigilo's search API: / (home), /search and /suggest.
It reads only from the search store (with the crawl store attached) and
never writes anything; any number of console processes can run beside the
crawler and the indexer.
*/
package console

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/unrolled/render"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/store"
)

// DS is the package-level search store handle used by the controllers.
var DS *store.SearchStore

// Render is the package-level renderer.
var Render *render.Render

var limiter *ipRateLimiter

var server *http.Server

// Route pairs a path with its controller.
type Route struct {
	Path       string
	Controller func(w http.ResponseWriter, req *http.Request)
}

// Routes lists the console's public surface.
func Routes() []Route {
	return []Route{
		{Path: "/", Controller: HomeController},
		{Path: "/search", Controller: SearchController},
		{Path: "/suggest", Controller: SuggestController},
	}
}

// Start launches the console in a goroutine and returns.
func Start() {
	go Run()
}

// Run blocks serving the console until Stop is called.
func Run() {
	if DS == nil {
		ds, err := store.OpenSearch(store.ModeReader)
		if err != nil {
			panic(fmt.Sprintf("Failed to open search store for console: %v", err))
		}
		DS = ds
	}

	Render = render.New(render.Options{IndentJSON: true})
	limiter = newIPRateLimiter(vigilo.Config.Console.RateLimitMax, vigilo.Config.Console.RateLimitSec)

	router := mux.NewRouter()
	for _, route := range Routes() {
		router.HandleFunc(route.Path, route.Controller)
	}

	addr := fmt.Sprintf(":%d", vigilo.Config.Console.Port)
	server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Infof("Console starting on %v", addr)
	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Errorf("Console server failed: %v", err)
	}
}

// Stop shuts the console down.
func Stop() {
	if server != nil {
		server.Close()
	}
}

// clientIP extracts the source IP for rate limiting.
func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
