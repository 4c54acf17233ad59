// Package harness runs scripted market scenarios.
//
// A scenario is a YAML file that seeds accounts, performs create, delist,
// take, list and advance steps as named users, and asserts on the final
// balances and offer states:
//
//	name: escrow_round_trip
//	description: escrow, wait out the freeze, delist
//	accounts:
//	  - {user_id: alice, money: 0, reps: 100}
//	steps:
//	  - {as: alice, action: create, args: {reps: 10, ryo: 20}}
//	  - {action: advance, args: {duration: 72h}}
//	  - {as: alice, action: delist, args: {offer: offer-1}}
//	assertions:
//	  - {type: balance, user: alice, reps: 95}
//	  - {type: offer_state, offer: offer-1, state: gone}
//
// Every run uses a fresh in-memory SQLite store, a manual clock and fixed
// offer ids (offer-1, offer-2, ...), so the transcript of a run is stable
// and can be compared against a golden file.
//
// Steps that are expected to fail name the rejection code:
//
//	- {as: alice, action: create, args: {reps: 10, ryo: 9}, expect: {code: VALIDATION}}
//
// A step without expect must succeed.
package harness
