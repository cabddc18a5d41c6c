// Package api exposes the custodial wallet over REST for chat front-ends:
// opening wallets, balance queries, recipient previews and transfers.
package api
