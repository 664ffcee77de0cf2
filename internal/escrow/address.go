package escrow

import (
	"bytes"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// SameAddress compares workchain and account id, ignoring the
// bounceable/testnet flags of the textual form.
func SameAddress(a, b *address.Address) bool {
	if isNone(a) || isNone(b) {
		return false
	}
	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}

func isNone(a *address.Address) bool {
	return a == nil || a.Type() == address.NoneAddress
}

// orNil turns addr_none into nil.
func orNil(a *address.Address) *address.Address {
	if isNone(a) {
		return nil
	}
	return a
}

// StateInit builds the StateInit cell for code and data:
// split_depth:nothing special:nothing code:^ data:^ library:nothing.
func StateInit(code, data *cell.Cell) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(0b00110, 5).
		MustStoreRef(code).
		MustStoreRef(data).
		EndCell()
}

// ContractAddress is the standard address of a contract deployed with the
// given code and initial data.
func ContractAddress(workchain int32, code, data *cell.Cell) *address.Address {
	return address.NewAddress(0, byte(workchain), StateInit(code, data).Hash())
}
