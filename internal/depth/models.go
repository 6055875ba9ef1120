package depth

import (
	"strings"

	"market-stream/internal/price"
)

// Side selects which half of a selection's book to read.
type Side int

const (
	Back Side = iota // offers available to back; best is the highest price
	Lay              // offers available to lay; best is the lowest price
)

func (s Side) String() string {
	if s == Lay {
		return "LAY"
	}
	return "BACK"
}

// ParseSide accepts "back"/"lay" in any case; anything else is Back.
func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BACK", "B":
		return Back, true
	case "LAY", "L":
		return Lay, true
	}
	return Back, false
}

type Level struct {
	Price price.Price `json:"price"`
	Size  price.Size  `json:"size"`
}

// PositionLevel is a level of a position-keyed ladder (best-available feeds).
type PositionLevel struct {
	Position int         `json:"position"`
	Price    price.Price `json:"price"`
	Size     price.Size  `json:"size"`
}
