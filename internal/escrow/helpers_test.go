package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func testAddr(seed byte) *address.Address {
	data := make([]byte, 32)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return address.NewAddress(0, 0, data)
}

func ton(s string) *big.Int {
	return tlb.MustFromTON(s).Nano()
}

var (
	buyer     = testAddr(1)
	seller    = testAddr(40)
	guarantor = testAddr(80)
	unitAddr  = testAddr(120)
	wallet    = testAddr(160)
	stranger  = testAddr(200)
)

func testTerms(usesToken bool) Terms {
	return Terms{
		DealID:               42,
		UsesToken:            usesToken,
		ConfirmationDuration: 3600,
		Buyer:                buyer,
		Seller:               seller,
		Guarantor:            guarantor,
		GuarantorFeeBps:      250,
	}
}

func requireCoins(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, want.String(), got.String())
}

func requireSameAddr(t *testing.T, want, got *address.Address) {
	t.Helper()
	if want == nil {
		require.Nil(t, got)
		return
	}
	require.True(t, SameAddress(want, got), "want %s, got %s", want, got)
}

func requireSameDeal(t *testing.T, want, got *Deal) {
	t.Helper()
	require.Equal(t, want.Initialized, got.Initialized)
	require.Equal(t, want.UsesToken, got.UsesToken)
	require.Equal(t, want.DealID, got.DealID)
	require.Equal(t, want.StartTime, got.StartTime)
	require.Equal(t, want.ConfirmationDuration, got.ConfirmationDuration)
	requireCoins(t, want.NeededAmount, got.NeededAmount)
	requireSameAddr(t, want.Buyer, got.Buyer)
	requireSameAddr(t, want.Seller, got.Seller)
	requireSameAddr(t, want.Guarantor, got.Guarantor)
	require.Equal(t, want.GuarantorFeeBps, got.GuarantorFeeBps)
	requireSameAddr(t, want.TokenSubaccount, got.TokenSubaccount)
}

func commandBody(op uint32) *cell.Cell {
	return EncodeHeader(op, 7)
}

type staticDeriver struct {
	addr *address.Address
}

func (s staticDeriver) WalletAddress(*address.Address) (*address.Address, error) {
	return s.addr, nil
}
