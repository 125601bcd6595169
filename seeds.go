package vigilo

// ManualSeeds are the hand-picked starting points injected on an empty
// frontier: broad, link-dense hubs across news, reference, academia and
// developer communities.
var ManualSeeds = []string{
	"https://www.abc.net.au", "https://www.bbc.com", "https://www.bloomberg.com",
	"https://www.cnn.com", "https://www.aljazeera.com", "https://www.reuters.com",
	"https://www.npr.org", "https://github.com", "https://stackoverflow.com",
	"https://slashdot.org", "https://news.ycombinator.com", "https://dev.to",
	"https://www.w3schools.com", "https://developer.mozilla.org", "https://www.wikipedia.org",
	"https://en.wikipedia.org/wiki/Main_Page", "https://curlie.org", "https://www.britannica.com",
	"https://archive.org", "https://www.mit.edu", "https://www.stanford.edu",
	"https://www.harvard.edu", "https://www.youtube.com", "https://www.reddit.com",
	"https://medium.com", "https://wordpress.com/discover", "https://www.amazon.com",
	"https://www.ebay.com", "https://www.craigslist.org", "https://www.popurls.com",
	"https://alltop.com", "https://drudgereport.com",
}
