// Package cache maps game asset requests onto StoragePath/<game>/<remote path>
// files. Every write goes through its own sibling "<dest>.temp*" file that is
// synced and renamed into place, so readers (the proxy, the crawler, or another
// process sharing the tree) never observe a partially written asset. The
// package also provides the per-path writer lock used by the download executor.
package cache
