// Package market implements the reputation-for-ryo black market.
//
// Users escrow reputation points into offers priced in ryo. Other users take
// open offers, paying ryo and receiving the escrowed reputation. Creators may
// delist their own open offers once the freeze window has elapsed.
//
// # Concurrency Model
//
// Market holds no mutable state of its own. Every operation runs as a single
// storage transaction (Store.Atomic) whose writes are conditional:
//
//   - Escrow: DebitReputationIfAtLeast, then InsertOffer
//   - Delist: DeleteOpenOffer (purchaser IS NULL), then CreditReputation
//   - Trade:  SetPurchaserIfUnset, then DebitCurrencyIfAtLeast and the credits
//
// A conditional write that affects zero rows aborts the transaction, so no
// paired side effect is ever applied without its guard. Any number of Market
// instances, in any number of processes, may share one store.
//
// Operations never retry. A caller that loses track of an outcome (timeout,
// crashed connection) must re-read state, or resubmit under the same
// idempotency key (see WithIdempotencyKey).
package market
