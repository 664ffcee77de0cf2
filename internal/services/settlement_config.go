package services

import (
	"encoding/base64"
	"fmt"

	"github.com/ads-marketplace/escrow/internal/config"
	"github.com/ads-marketplace/escrow/internal/escrow"
	"github.com/ads-marketplace/escrow/internal/ton"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// NewSettlementConfig reads the contract code and jetton settings. api may be
// nil; without it jetton wallets are derived only when the wallet code is
// configured.
func NewSettlementConfig(cfg *config.Config, api tonapi.APIClientWrapped) (SettlementConfig, error) {
	out := SettlementConfig{Workchain: int32(cfg.EscrowWorkchain)}

	if cfg.EscrowCodeBOC != "" {
		code, err := parseBOC(cfg.EscrowCodeBOC)
		if err != nil {
			return out, fmt.Errorf("ESCROW_CODE_BOC: %w", err)
		}
		out.Code = code
	}

	var err error
	if out.Token.TransferValue, err = ton.ParseTON(cfg.JettonTransferFeeTON); err != nil {
		return out, fmt.Errorf("JETTON_TRANSFER_FEE_TON: %w", err)
	}
	if out.Token.ForwardValue, err = ton.ParseTON(cfg.JettonForwardTON); err != nil {
		return out, fmt.Errorf("JETTON_FORWARD_TON: %w", err)
	}
	if out.Token.NotificationValue, err = ton.ParseTON(cfg.NotificationValueTON); err != nil {
		return out, fmt.Errorf("NOTIFICATION_VALUE_TON: %w", err)
	}

	if cfg.JettonMinterAddress == "" {
		return out, nil
	}
	minter, err := ton.ParseAnyAddress(cfg.JettonMinterAddress)
	if err != nil {
		return out, fmt.Errorf("JETTON_MINTER_ADDRESS: %w", err)
	}

	switch {
	case cfg.TokenMode():
		code, err := parseBOC(cfg.JettonWalletCodeBOC)
		if err != nil {
			return out, fmt.Errorf("JETTON_WALLET_CODE_BOC: %w", err)
		}
		out.Token.Wallets = ton.NewLocalWallets(minter, code)
	case api != nil:
		out.Token.Wallets = ton.NewChainWallets(api, minter)
	}
	return out, nil
}

func parseBOC(s string) (*cell.Cell, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return cell.FromBOC(raw)
}

var _ escrow.WalletDeriver = (*ton.LocalWallets)(nil)
var _ escrow.WalletDeriver = (*ton.ChainWallets)(nil)
