// Package ledger defines the narrow contract the custody core uses to talk to
// a Hedera-style distributed ledger: account creation, balance queries, token
// association and transfers. Drivers live in sub-packages.
package ledger
