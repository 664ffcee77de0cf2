package ton

import (
	"context"
	"fmt"
	"time"

	"github.com/ads-marketplace/escrow/internal/escrow"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// LocalWallets derives jetton wallet addresses offline from the minter
// address and the wallet code of a standard jetton:
// data = balance:Coins owner:MsgAddress master:MsgAddress wallet_code:^Cell
type LocalWallets struct {
	Minter     *address.Address
	WalletCode *cell.Cell
	Workchain  int32
}

func NewLocalWallets(minter *address.Address, walletCode *cell.Cell) *LocalWallets {
	return &LocalWallets{Minter: minter, WalletCode: walletCode, Workchain: int32(minter.Workchain())}
}

func (w *LocalWallets) WalletData(owner *address.Address) (*cell.Cell, error) {
	b := cell.BeginCell().MustStoreCoins(0)
	if err := b.StoreAddr(owner); err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	if err := b.StoreAddr(w.Minter); err != nil {
		return nil, fmt.Errorf("minter: %w", err)
	}
	if err := b.StoreRef(w.WalletCode); err != nil {
		return nil, fmt.Errorf("wallet code: %w", err)
	}
	return b.EndCell(), nil
}

func (w *LocalWallets) WalletAddress(owner *address.Address) (*address.Address, error) {
	data, err := w.WalletData(owner)
	if err != nil {
		return nil, err
	}
	return escrow.ContractAddress(w.Workchain, w.WalletCode, data), nil
}

// ChainWallets asks the minter's get_wallet_address getter through a lite
// server. Used when the wallet code is not known locally.
type ChainWallets struct {
	master  *jetton.Client
	timeout time.Duration
}

func NewChainWallets(api ton.APIClientWrapped, minter *address.Address) *ChainWallets {
	return &ChainWallets{master: jetton.NewJettonMasterClient(api, minter), timeout: 10 * time.Second}
}

func (w *ChainWallets) WalletAddress(owner *address.Address) (*address.Address, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	wallet, err := w.master.GetJettonWallet(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("get jetton wallet: %w", err)
	}
	return wallet.Address(), nil
}
