package entity

// LineItem is one row of the receipt's itemization.
type LineItem struct {
	Name      string `json:"name"`
	Quantity  string `json:"quantity,omitempty"`   // integer string
	UnitPrice string `json:"unit_price,omitempty"` // decimal string
	Total     string `json:"total,omitempty"`      // decimal string
}

// Fields is the normalized structured payload extracted from a receipt.
// Money fields are decimal strings so values survive round-trips without
// float drift; tx_date is YYYY-MM-DD.
type Fields struct {
	Vendor             string     `json:"vendor"`
	TxDate             string     `json:"tx_date"`
	Total              string     `json:"total"`
	CurrencyCode       string     `json:"currency_code,omitempty"`
	Addressee          string     `json:"addressee,omitempty"`
	RegistrationNumber string     `json:"registration_number,omitempty"`
	Subtotal           string     `json:"subtotal,omitempty"`
	Tax                string     `json:"tax,omitempty"`
	LineItems          []LineItem `json:"line_items,omitempty"`
	ModelConfidence    float32    `json:"confidence,omitempty"` // optional (0..1)
}
