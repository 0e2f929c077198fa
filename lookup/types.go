package lookup

import (
	"encoding/json"
	"strings"
)

// Price holds a provider price field that may arrive as a JSON number or string.
type Price string

func (p *Price) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	*p = Price(raw)
	return nil
}

// Book is one item of a bulk lookup response.
type Book struct {
	ISBN    string   `json:"isbn"`
	ISBN13  string   `json:"isbn13"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	MSRP    Price    `json:"msrp"`
}

// Response is the bulk endpoint body.
type Response struct {
	Books []Book `json:"books"`
	Total int    `json:"total"`
}
