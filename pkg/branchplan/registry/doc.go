// Package registry provides a generic concurrency-safe map used for
// build-time factories and per-graph caches.
//
// graphdef resolves node types through a Registry of factories:
//
//	factories := registry.New[string, graphdef.Factory]()
//	factories.Register("switch", newSwitch)
//	factory, ok := factories.Get(def.Type)
//
// The runtime caches one analysis per graph fingerprint with Compute,
// which runs the computation at most once per key and leaves failed
// computations unstored:
//
//	entry, created, err := analyses.Compute(cg.Fingerprint(), analyse)
//
// All methods are safe for concurrent use. Range iterates over a snapshot,
// so the callback may register or delete entries.
package registry
