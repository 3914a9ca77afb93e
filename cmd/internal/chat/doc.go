// Package chat implements Courier's conversation and message core:
// deterministic direct-conversation resolution, the message ledger with
// delivery-status and soft-delete lifecycle, paginated conversation and
// message views, and bulk read-state tracking.
//
// Persistence is pluggable behind the Store interface. Two storage
// strategies ship with different consistency contracts:
//
//   - PostgresStore: normalized relational model. Exact totals,
//     offset/limit windowing, at-most-one direct conversation per user
//     pair (outside of a concurrent first-contact race).
//   - CassandraStore: denormalized wide-row model. Partition-per-user
//     conversation mirrors, token-based windowing, approximate totals,
//     and no cross-partition atomicity. Resolution always mints a new
//     conversation; repeated resolution for the same pair produces
//     distinct conversation shells.
//
// The two contracts are intentionally not reconciled; callers select one
// at composition time and must not assume the guarantees of the other.
package chat
