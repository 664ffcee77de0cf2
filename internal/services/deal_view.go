package services

import (
	"strconv"
	"time"

	"github.com/ads-marketplace/escrow/internal/escrow"
	"github.com/ads-marketplace/escrow/internal/models"
	"github.com/ads-marketplace/escrow/internal/ton"
	"github.com/xssnick/tonutils-go/address"
)

// DealView is the stored deal of a unit as the API returns it. Addresses
// are in user-friendly form, amounts in nanoTON (or jetton units) strings.
type DealView struct {
	Address              string     `json:"address"`
	RawAddress           string     `json:"raw_address"`
	Status               string     `json:"status"`
	Initialized          bool       `json:"initialized"`
	UsesToken            bool       `json:"uses_token"`
	DealID               string     `json:"deal_id"`
	StartTime            uint32     `json:"start_time"`
	ConfirmationDuration uint32     `json:"confirmation_duration"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	NeededAmount         string     `json:"needed_amount"`
	Buyer                string     `json:"buyer"`
	Seller               string     `json:"seller"`
	Guarantor            string     `json:"guarantor"`
	GuarantorFeeBps      uint16     `json:"guarantor_fee_bps"`
	TokenSubaccount      string     `json:"token_subaccount,omitempty"`
	Balance              string     `json:"balance_nano"`
	BalanceTON           string     `json:"balance_ton"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func newDealView(row *models.Unit, addr *address.Address, d *escrow.Deal) (*DealView, error) {
	balance, err := ton.ParseNano(row.BalanceNano)
	if err != nil {
		return nil, err
	}

	v := &DealView{
		Address:              addr.String(),
		RawAddress:           row.Address,
		Status:               row.Status,
		Initialized:          d.Initialized,
		UsesToken:            d.UsesToken,
		DealID:               strconv.FormatUint(d.DealID, 10),
		StartTime:            d.StartTime,
		ConfirmationDuration: d.ConfirmationDuration,
		NeededAmount:         "0",
		Buyer:                friendly(d.Buyer),
		Seller:               friendly(d.Seller),
		Guarantor:            friendly(d.Guarantor),
		GuarantorFeeBps:      d.GuarantorFeeBps,
		TokenSubaccount:      friendly(d.TokenSubaccount),
		Balance:              balance.String(),
		BalanceTON:           ton.FormatTON(balance),
		UpdatedAt:            row.UpdatedAt,
	}
	if d.NeededAmount != nil {
		v.NeededAmount = d.NeededAmount.String()
	}
	if d.StartTime != 0 {
		t := time.Unix(int64(d.Deadline()), 0).UTC()
		v.Deadline = &t
	}
	return v, nil
}

func friendly(a *address.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}
