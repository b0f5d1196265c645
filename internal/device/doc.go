// Package device defines the source-device contract consumed by the
// mapping core and the registry that tracks devices across remaps.
//
// A source device has an identifier, a class (and optional virtual
// class), a capability list, UI component declarations that say which
// capabilities are user-visible, and a live value cache. Reads, writes and
// change subscriptions are asynchronous and may fail; the mapping core
// retries them through the capability observer and the state manager.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                 Device implementations                │
//	│   ┌──────────────┐            ┌──────────────┐        │
//	│   │ MemoryDevice │            │  MQTTDevice  │        │
//	│   │  (memory.go) │            │  (mqtt.go)   │        │
//	│   └──────────────┘            └──────────────┘        │
//	│            ╲                       ╱                  │
//	│             ▼                     ▼                   │
//	│            Device interface (device.go)               │
//	├───────────────────────────────────────────────────────┤
//	│   Registry (registry.go) ───▶ Repository              │
//	│   snapshots · mapping info     (repository.go,        │
//	│   error counters               SQLite + CBOR blobs)   │
//	└───────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Registry, MemoryDevice, MQTTDevice and ValueCache are safe for
// concurrent use.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	if registry.ShouldRefreshMapping(dev.Descriptor()) {
//	    // forget and remap
//	}
package device
