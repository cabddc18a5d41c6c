package wallet

import "time"

// Observer 接收托管流程中的度量事件。
type Observer interface {
	WalletProvisioned(success bool)
	Association(status AssociationStatus)
	TransferFinished(asset string, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) WalletProvisioned(bool) {}
func (nopObserver) Association(AssociationStatus) {}
func (nopObserver) TransferFinished(string, string, time.Duration) {}
