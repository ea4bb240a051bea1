/*
Package cardano provides a backend-agnostic view of Cardano ledger state.

A caller holds a single ChainContext and queries UTXOs, protocol and genesis
parameters, stake information and the chain tip, or submits and evaluates
transactions, without caring which data provider answers: Blockfrost, Koios,
an Ogmios bridge, or a local cardano-cli against a node socket. Each backend
translates its own wire schema into the one canonical model defined here and
hides provider latency behind retries and per-adapter caches.

This library is a point-in-time query/submit facade. It does not follow the
chain, keep a local chain database, validate ledger rules, or build and sign
transactions.
*/
package cardano
