// proxy puts a bounded cache and lazy construction in front of an expensive
// video Service. The Service is built from its Factory on the first cache
// miss, and misses for the same Key are fetched once (via a singleflight
// group to prevent stampeding) no matter how many callers ask concurrently.
package proxy
