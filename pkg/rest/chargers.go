package rest

import "context"

// ChargersPath lists the chargers the account can access.
const ChargersPath = "/api/chargers"

// Charger is a charger as listed by the API.
type Charger struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color int    `json:"color,omitempty"`

	// ProductCode identifies the hardware model.
	ProductCode int `json:"productCode,omitempty"`
}

// Chargers lists the account's chargers.
func (c *Client) Chargers(ctx context.Context) ([]Charger, error) {
	var chargers []Charger
	if err := c.Get(ctx, ChargersPath, &chargers); err != nil {
		return nil, err
	}
	return chargers, nil
}
