package model

// CriteriaPercentage is the only supported filter criteria name: keep
// instruments whose strike is within Value percent of the reference strike
// nearest the underlying spot price.
const CriteriaPercentage = "percentage"

// Criteria filters the token set resolved for a symbol before subscription.
type Criteria struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Percentage builds a percentage-band criteria.
func Percentage(value float64) *Criteria {
	return &Criteria{Name: CriteriaPercentage, Value: value}
}
