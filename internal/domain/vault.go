package domain

// VaultPosition is a user's escrow-contract balance for one (chain, token)
// pair. Physical is the on-chain balance; Reserved is the amount the backend
// has committed to open trades. The spendable figure is Available, never the
// raw chain balance.
type VaultPosition struct {
	Chain    string
	Token    string
	Physical float64
	Reserved float64
}

// Available returns the spendable/withdrawable portion of the position.
func (p VaultPosition) Available() float64 {
	avail := p.Physical - p.Reserved
	if avail < 0 {
		return 0
	}
	return avail
}
