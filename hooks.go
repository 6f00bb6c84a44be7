package storecache

// Hooks are callbacks for high-signal events. They run on hot paths and in
// background jobs, so implementations must be cheap and non-blocking; wrap
// slow sinks with hooks/async.
type Hooks interface {
	// An entry was deleted on read.
	// reason is one of "corrupt", "value_decode", "gen_mismatch", "expired",
	// "epoch_mismatch" or "policy".
	SelfHeal(key, reason string)

	// A read skipped the cache because Options.Bypass returned true.
	Bypassed(tag string)

	// A background population or a read-through write did not happen.
	// reason is one of "in_flight", "collection_in_flight", "saturated",
	// "closed", "epoch_moved" or "canceled".
	PopulationDeclined(key, reason string)

	// A population job wrote entries for key. items counts the entities.
	PopulationCompleted(key string, items int)

	// An eviction job removed keys entries.
	EvictionCompleted(key string, keys int)

	// Provider Set or Del failed.
	CacheWriteFailed(key string, err error)

	// Provider returned ok=false on Set (pressure or admission policy).
	ProviderSetRejected(key string)

	// Flush completed. clearErr is the ClearAll error, if any.
	Flushed(namespace string, clearErr error)
}

// NopHooks is the default.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)           {}
func (NopHooks) Bypassed(string)                   {}
func (NopHooks) PopulationDeclined(string, string) {}
func (NopHooks) PopulationCompleted(string, int)   {}
func (NopHooks) EvictionCompleted(string, int)     {}
func (NopHooks) CacheWriteFailed(string, error)    {}
func (NopHooks) ProviderSetRejected(string)        {}
func (NopHooks) Flushed(string, error)             {}
