package models

// PaymentIntent is the mock counterpart of a card payment intent.
type PaymentIntent struct {
	ClientSecret string `json:"clientSecret"`
	AmountCents  int    `json:"amount"`
	Currency     string `json:"currency"`
}

// PaymentResult reports the outcome of confirming an intent.
type PaymentResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Quote is the price shown on the payment gate.
type Quote struct {
	Images      int `json:"images"`
	AmountCents int `json:"amount"`
}
