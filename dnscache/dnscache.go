/*
Package dnscache implements a Dial function that caches DNS resolutions.

With a couple hundred fetchers hammering a long tail of hosts, repeated
lookups of the same domains dominate connection setup; the cache keeps the
most recently used resolutions and re-resolves entries older than five
minutes. Hosts that resolve into private address space are remembered as
refused so the crawler never connects into internal networks.
*/
package dnscache

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// refreshAfter is how long a cached resolution is trusted before the next
// dial re-resolves it.
const refreshAfter = 5 * time.Minute

// Dial wraps the given dial function with caching of DNS resolutions. When a
// hostname is found in the cache the wrapped dial receives the IP address
// instead of the hostname, so no lookup is performed. Failures (including
// private-address refusals when refusePrivate is set) are cached too, so a
// dead host does not trigger a lookup storm.
//
// If wrappedDial is nil, net.Dial is used.
func Dial(wrappedDial func(network, addr string) (net.Conn, error), maxEntries int, refusePrivate bool) (func(network, addr string) (net.Conn, error), error) {
	if wrappedDial == nil {
		wrappedDial = net.Dial
	}
	cache, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	c := &dnsCache{
		wrappedDial:   wrappedDial,
		cache:         cache,
		refusePrivate: refusePrivate,
	}
	return c.cachingDial, nil
}

type dnsCache struct {
	wrappedDial   func(network, address string) (net.Conn, error)
	cache         *lru.Cache
	refusePrivate bool
	mu            sync.RWMutex
}

type hostrecord struct {
	ipaddr    string
	refused   bool
	err       error
	lastQuery time.Time
}

func (c *dnsCache) cachingDial(network, addr string) (net.Conn, error) {
	key := network + addr

	c.mu.RLock()
	entry, ok := c.cache.Get(key)
	c.mu.RUnlock()

	if ok {
		record := entry.(hostrecord)
		if time.Since(record.lastQuery) > refreshAfter {
			return c.cacheHost(network, addr)
		}
		if record.refused {
			return nil, record.err
		}
		return c.wrappedDial(network, record.ipaddr)
	}

	return c.cacheHost(network, addr)
}

// cacheHost dials addr directly and caches the resolved remote address,
// overwriting any previous entry for this host.
func (c *dnsCache) cacheHost(network, addr string) (net.Conn, error) {
	newConn, err := c.wrappedDial(network, addr)
	queryTime := time.Now()

	if err != nil {
		c.put(network+addr, hostrecord{refused: true, err: err, lastQuery: queryTime})
		return nil, err
	}

	remote := newConn.RemoteAddr().String()
	if c.refusePrivate && isPrivateAddr(remote) {
		newConn.Close()
		err = fmt.Errorf("host %v resolves to private address %v", addr, remote)
		c.put(network+addr, hostrecord{refused: true, err: err, lastQuery: queryTime})
		return nil, err
	}

	c.put(network+addr, hostrecord{ipaddr: remote, lastQuery: queryTime})
	return newConn, nil
}

func (c *dnsCache) put(key string, rec hostrecord) {
	c.mu.Lock()
	c.cache.Add(key, rec)
	c.mu.Unlock()
}

var privateNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{"10.0.0.0/8", "192.168.0.0/16", "172.16.0.0/12", "127.0.0.0/8"} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err.Error())
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// isPrivateAddr determines whether addr (host:port or bare IP) belongs to a
// private network.
func isPrivateAddr(addr string) bool {
	if index := strings.LastIndex(addr, ":"); index != -1 {
		addr = addr[:index]
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
