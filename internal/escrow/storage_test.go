package escrow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func TestDealRoundTrip(t *testing.T) {
	native, err := NewDeal(testTerms(false))
	require.NoError(t, err)

	funded := native.Clone()
	funded.Initialized = true
	funded.StartTime = 1800000000
	funded.NeededAmount = ton("10")

	token, err := NewDeal(testTerms(true))
	require.NoError(t, err)
	token.Initialized = true
	token.NeededAmount = ton("123.456789")
	token.TokenSubaccount = wallet

	maxed := funded.Clone()
	maxed.DealID = ^uint64(0)
	maxed.StartTime = ^uint32(0)
	maxed.ConfirmationDuration = ^uint32(0)
	maxed.GuarantorFeeBps = MaxGuarantorFeeBps

	tests := []struct {
		name string
		deal *Deal
	}{
		{"initial native", native},
		{"funded native", funded},
		{"token with subaccount", token},
		{"max widths", maxed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := EncodeDeal(tt.deal)
			require.NoError(t, err)

			got, err := DecodeDeal(c)
			require.NoError(t, err)
			requireSameDeal(t, tt.deal, got)

			boc, err := EncodeDealBOC(tt.deal)
			require.NoError(t, err)
			got, err = DecodeDealBOC(boc)
			require.NoError(t, err)
			requireSameDeal(t, tt.deal, got)
		})
	}
}

func TestEncodeDeal_Layout(t *testing.T) {
	d, err := NewDeal(testTerms(true))
	require.NoError(t, err)

	c, err := EncodeDeal(d)
	require.NoError(t, err)

	// 2 flags + 64 + 32 + 32 + coins(4 bit length, zero) + 3 std addresses + 10
	require.Equal(t, uint(2+64+32+32+4+3*267+10), c.BitsSize())
	require.Equal(t, uint(1), c.RefsNum())

	sub, err := c.BeginParse().MustLoadRef().ToCell()
	require.NoError(t, err)
	require.Equal(t, uint(2), sub.BitsSize())
}

func TestEncodeDeal_Invalid(t *testing.T) {
	tooHighFee, _ := NewDeal(testTerms(false))
	tooHighFee.GuarantorFeeBps = MaxGuarantorFeeBps + 1

	noBuyer, _ := NewDeal(testTerms(false))
	noBuyer.Buyer = nil

	nativeWithWallet, _ := NewDeal(testTerms(false))
	nativeWithWallet.TokenSubaccount = wallet

	for name, d := range map[string]*Deal{
		"fee over 10 bits":  tooHighFee,
		"missing buyer":     noBuyer,
		"native subaccount": nativeWithWallet,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := EncodeDeal(d)
			require.ErrorIs(t, err, ErrInvalidDeal)
		})
	}
}

func TestNewDeal_RejectsWideFee(t *testing.T) {
	terms := testTerms(false)
	terms.GuarantorFeeBps = 1024
	_, err := NewDeal(terms)
	require.True(t, errors.Is(err, ErrInvalidDeal))
}

func TestDecodeDeal_Malformed(t *testing.T) {
	short := cell.BeginCell().MustStoreUInt(1, 2).MustStoreUInt(5, 64).EndCell()
	_, err := DecodeDeal(short)
	require.ErrorIs(t, err, ErrMalformedStorage)
	require.Equal(t, ExitCellUnderflow, ExitCode(err))

	_, err = DecodeDealBOC([]byte("not a boc"))
	require.ErrorIs(t, err, ErrMalformedStorage)
}

func TestDeal_Deadline(t *testing.T) {
	d := &Deal{StartTime: ^uint32(0), ConfirmationDuration: ^uint32(0)}
	require.Equal(t, uint64(^uint32(0))*2, d.Deadline())
	require.False(t, d.DeadlinePassed(^uint32(0)))

	d = &Deal{StartTime: 1000, ConfirmationDuration: 60}
	require.False(t, d.DeadlinePassed(1060))
	require.True(t, d.DeadlinePassed(1061))
}
