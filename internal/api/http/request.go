package httpapi

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// flexInt accepts a JSON number or a numeric string, the way web clients
// send form values. Fractions are truncated; anything unparsable is 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1<<53 {
		*f = 0
		return nil
	}
	*f = flexInt(math.Trunc(v))
	return nil
}

type purchaseRequest struct {
	BuyerID   flexInt `json:"buyer_id"`
	ProductID flexInt `json:"product_id"`
	Quantity  flexInt `json:"quantity"`
}

type cartItem struct {
	ProductID flexInt `json:"product_id"`
	Quantity  flexInt `json:"quantity"`
}

type checkoutRequest struct {
	BuyerID flexInt    `json:"buyer_id"`
	Items   []cartItem `json:"items"`
}
