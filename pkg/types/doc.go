/*
Package types defines the core data structures shared across the daemon:
the monitored Service and its rule graph, the matching Rule and Action
kinds a service can carry, the Event key used to debounce state changes,
and the Snapshot persisted between poll cycles.

These types are the vocabulary every other package builds on: config
parses into a Service, the scheduler walks a Service's rules, the state
machine transitions a Service's MonitorState, and the action engine
executes an Action against it.
*/
package types
