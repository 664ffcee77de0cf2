package services

import (
	"encoding/base64"
	"testing"

	"github.com/ads-marketplace/escrow/internal/config"
	"github.com/ads-marketplace/escrow/internal/escrow"
	"github.com/ads-marketplace/escrow/internal/ton"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func TestNewSettlementConfig(t *testing.T) {
	code := cell.BeginCell().MustStoreUInt(0xC0DE, 16).EndCell()
	walletCode := cell.BeginCell().MustStoreUInt(0xBEEF, 16).EndCell()

	cfg := &config.Config{
		EscrowCodeBOC:        base64.StdEncoding.EncodeToString(code.ToBOC()),
		EscrowWorkchain:      -1,
		JettonTransferFeeTON: "0.1",
		JettonForwardTON:     "0.02",
		NotificationValueTON: "0.005",
		JettonMinterAddress:  ton.RawAddress(wallet),
		JettonWalletCodeBOC:  base64.StdEncoding.EncodeToString(walletCode.ToBOC()),
	}

	out, err := NewSettlementConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), out.Workchain)
	assert.Equal(t, code.Hash(), out.Code.Hash())
	assert.Equal(t, nano("0.1").String(), out.Token.TransferValue.String())
	assert.Equal(t, nano("0.005").String(), out.Token.NotificationValue.String())
	require.IsType(t, &ton.LocalWallets{}, out.Token.Wallets)

	// the derived wallet is deterministic per owner
	a, err := out.Token.Wallets.WalletAddress(buyer)
	require.NoError(t, err)
	b, err := out.Token.Wallets.WalletAddress(buyer)
	require.NoError(t, err)
	assert.True(t, escrow.SameAddress(a, b))
}

func TestNewSettlementConfig_Invalid(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{JettonTransferFeeTON: "0.055", JettonForwardTON: "0.01", NotificationValueTON: "0.01"}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad code", func(c *config.Config) { c.EscrowCodeBOC = "not base64!" }},
		{"bad fee", func(c *config.Config) { c.JettonTransferFeeTON = "-1" }},
		{"bad minter", func(c *config.Config) { c.JettonMinterAddress = "EQnope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			_, err := NewSettlementConfig(cfg, nil)
			assert.Error(t, err)
		})
	}

	// minter without wallet code and without a lite client: no deriver
	cfg := base()
	cfg.JettonMinterAddress = ton.RawAddress(wallet)
	out, err := NewSettlementConfig(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, out.Token.Wallets)
}
