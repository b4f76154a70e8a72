package chain

// Intent is a logical transfer. Callers build it and must not mutate it
// after handing it to a builder.
type Intent struct {
	Blockchain  Blockchain
	Source      string
	Destination string
	Amount      Amount
	Fee         *Fee

	// Memo is attached as an XRP memo or a Solana memo instruction.
	Memo string
	// DestinationTag is the XRP destination extra field.
	DestinationTag *uint32
	// CallData is appended to EVM transactions that are not token transfers.
	CallData []byte
}

// Validate checks the local preconditions of an intent. It does not touch
// the network and does not check balances.
func (i Intent) Validate() error {
	p, err := ParamsFor(i.Blockchain)
	if err != nil {
		return ErrNotSupported.Wrap(err)
	}
	if i.Amount.Blockchain != i.Blockchain {
		return ErrBlockchainMismatch.WithDetails(map[string]string{"expected": string(i.Blockchain), "got": string(i.Amount.Blockchain)})
	}
	if !i.Amount.IsPositive() {
		return ErrInvalidAmount.WithDetails(map[string]string{"amount": i.Amount.Value.String()})
	}
	if _, err := i.Amount.MinorUnits(); err != nil {
		return err
	}
	if i.Source == "" {
		return ErrInvalidAddress.Withf("source address is empty")
	}
	if i.Destination == "" {
		return ErrInvalidAddress.Withf("destination address is empty")
	}
	if i.DestinationTag != nil && i.Blockchain != XRP {
		return ErrNotSupported.Withf("destination tag is only supported on %s", XRP)
	}
	if i.Amount.IsToken() && p.Family == FamilyUTXO {
		return ErrNotSupported.Withf("token transfers are not supported on %s", i.Blockchain)
	}
	return CheckFeeParams(p, i.Fee)
}

// Total returns amount plus fee when both are in the native coin, otherwise
// the amount alone.
func (i Intent) Total() Amount {
	if i.Fee == nil || i.Amount.IsToken() {
		return i.Amount
	}
	total, err := i.Amount.Add(i.Fee.Amount)
	if err != nil {
		return i.Amount
	}
	return total
}
