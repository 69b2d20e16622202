// Package cache provides the key/value store that cache entries persist to,
// with multiple backend implementations and a pre-read interception point.
//
// # Store Interface
//
// [Store] distinguishes an expiry-evaluated read ([Store.Get]) from a raw read
// ([Store.GetRaw]). Get behaves like a classic TTL cache: an expired record is
// purged and reported [Absent]. GetRaw returns the record as stored, expired or
// not, so callers can serve a stale copy while a replacement is computed.
//
// Expired records are not dropped immediately. Every backend keeps them for a
// retention window ([DefaultRetention], see [WithRetention]) after which a
// background sweep (in-memory, SQLite) or the native key TTL (Redis) removes
// them. A ttl of zero stores a record that never expires.
//
// # Implementations
//
//   - [NewInMemory] stores values as-is in a map guarded by a mutex.
//   - [NewSQLite] uses [modernc.org/sqlite] and stores msgpack blobs.
//   - [NewRedis] stores msgpack values in hashes (field "v" for the value, "e"
//     for the expiry in unix milliseconds) with an optional key prefix.
//   - [NewComposite] chains stores, for example an in-memory L1 in front of
//     Redis.
//   - [NewGuarded] wraps any store in a circuit breaker so that a failing
//     backend is skipped quickly; failures surface as [ErrStoreUnavailable].
//
// Values read back from serialized backends are msgpack.RawMessage; use
// [Decode] or [GetContext] to convert them to a concrete type. Storing a
// RawMessage again writes the encoded bytes unchanged.
//
// # Pre-read interception
//
// [Hooked] wraps a store and lets a caller register a [PreReadFunc] per key.
// Before [Hooked.Get] reads the backend, the hook may answer with [Serve] to
// return a record regardless of its expiration (reported as [Fresh] or
// [Stale]), or with [NoOverride] to let the backend decide.
//
//	hooked := cache.NewHooked(cache.NewRedis(client, cache.WithPrefix("swr")))
//	stop := hooked.OnPreRead("home-feed", func(ctx context.Context, key string) cache.Override {
//	    rec, ok, err := hooked.GetRaw(ctx, key)
//	    if err != nil || !ok {
//	        return cache.NoOverride
//	    }
//	    return cache.Serve(rec)
//	})
//	defer stop()
//
// # Errors
//
// Backend I/O failures are marked with [ErrStoreUnavailable] and can be
// matched with errors.Is. Marshal failures are not marked since retrying them
// cannot succeed.
package cache
