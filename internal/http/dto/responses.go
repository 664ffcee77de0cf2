package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type PayloadResponse struct {
	Payload string `json:"payload"`
}

type AuthResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Network string `json:"network"`
}

type OutMessageResponse struct {
	Op          string `json:"op"`
	Destination string `json:"destination"`
	ValueNano   string `json:"value_nano"`
	SendMode    uint8  `json:"send_mode"`
	BodyBOC     []byte `json:"body_boc,omitempty"` // base64 in JSON
}

type DeliveryResponse struct {
	Op       string               `json:"op"`
	ExitCode int                  `json:"exit_code"`
	Status   string               `json:"status"`
	Returned bool                 `json:"returned,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Outbound []OutMessageResponse `json:"outbound"`
	Deal     any                  `json:"deal"`
}
