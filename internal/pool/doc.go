// Package pool provides a small generic resource pool used to bound the
// number of concurrent upstream connections. Capacity is a channel
// semaphore; idle resources are recycled until their idle timeout or max
// lifetime passes, and a maintenance goroutine evicts stragglers.
package pool
