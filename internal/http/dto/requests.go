package dto

import (
	"fmt"

	"github.com/ads-marketplace/escrow/internal/ton"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks the struct tags of a decoded request.
func Validate(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

type TonProofRequest = ton.ProofData

type CreateDealRequest struct {
	DealID               uint64 `json:"deal_id,string"`
	UsesToken            bool   `json:"uses_token"`
	ConfirmationDuration uint32 `json:"confirmation_duration"`
	Buyer                string `json:"buyer" validate:"required"`
	Seller               string `json:"seller" validate:"required"`
	Guarantor            string `json:"guarantor" validate:"required"`
	GuarantorFeeBps      uint16 `json:"guarantor_fee_bps" validate:"lte=1023"`
}

// SendMessageRequest delivers an internal message from the caller's wallet.
// There is no time field, the server clock is used.
type SendMessageRequest struct {
	BodyBOC  string `json:"body_boc"` // base64, empty for a plain transfer
	ValueTON string `json:"value_ton" validate:"required,numeric"`
	Bounce   *bool  `json:"bounce,omitempty"` // default true
}
