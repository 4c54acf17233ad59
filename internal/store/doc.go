// Package store provides the SQLite-backed market.Store.
//
// Tables:
//   - accounts: balances (money, reputation_points) and display data
//   - offers: open and taken offers; taken rows are kept as trade history
//   - idempotency_keys: (user_id, key) pairs claimed by mutating calls
//
// # Conditional Writes
//
// Every guarded mutation is one UPDATE/DELETE whose WHERE clause carries the
// guard, and whose RowsAffected decides the outcome:
//
//	UPDATE accounts SET money = money - ? WHERE user_id = ? AND money >= ?
//	UPDATE offers SET purchaser_user_id = ? WHERE id = ? AND purchaser_user_id IS NULL
//	DELETE FROM offers WHERE id = ? AND creator_user_id = ? AND purchaser_user_id IS NULL
//
// CHECK constraints on the balance columns back these guards up: a write that
// would drive a balance negative fails instead of committing.
//
// # Deterministic Listing
//
// Open offers are ordered by ryo_per_rep ASC, created_at ASC, id ASC so that
// offset pagination is stable between calls.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
