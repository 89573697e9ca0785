package twelvedata

import "github.com/shopspring/decimal"

// timeSeriesResponse is the /time_series payload. Prices arrive as decimal
// strings and are parsed exactly before conversion to float64.
type timeSeriesResponse struct {
	Meta struct {
		Symbol           string `json:"symbol"`
		Interval         string `json:"interval"`
		ExchangeTimezone string `json:"exchange_timezone"`
	} `json:"meta"`
	Values  []bar  `json:"values"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type bar struct {
	Datetime string              `json:"datetime"`
	Open     decimal.Decimal     `json:"open"`
	High     decimal.Decimal     `json:"high"`
	Low      decimal.Decimal     `json:"low"`
	Close    decimal.Decimal     `json:"close"`
	Volume   decimal.NullDecimal `json:"volume"`
}
