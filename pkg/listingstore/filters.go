package listingstore

import (
	"fmt"
	"strings"

	"github.com/hybridrealty/propsearch/pkg/domain"
)

// filterClause compiles domain.HardFilters into a SQL WHERE fragment
// (without the leading "WHERE") plus its positional arguments, so
// every retrieval strategy applies the same hard filters consistently.
func filterClause(f domain.HardFilters) (string, []any) {
	var clauses []string
	var args []any

	addRange := func(col string, min, max *float64) {
		if min != nil {
			clauses = append(clauses, fmt.Sprintf("%s >= ?", col))
			args = append(args, *min)
		}
		if max != nil {
			clauses = append(clauses, fmt.Sprintf("%s <= ?", col))
			args = append(args, *max)
		}
	}
	addRangeInt := func(col string, min, max *int64) {
		if min != nil {
			clauses = append(clauses, fmt.Sprintf("%s >= ?", col))
			args = append(args, *min)
		}
		if max != nil {
			clauses = append(clauses, fmt.Sprintf("%s <= ?", col))
			args = append(args, *max)
		}
	}

	addRangeInt("price", f.PriceMin, f.PriceMax)
	addRange("bedrooms", f.BedsMin, f.BedsMax)
	addRange("bathrooms", f.BathsMin, f.BathsMax)
	addRange("living_area", f.LivingAreaMin, f.LivingAreaMax)

	if len(f.PropertyTypes) > 0 {
		clauses = append(clauses, "property_type IN ("+placeholders(len(f.PropertyTypes))+")")
		for _, pt := range f.PropertyTypes {
			args = append(args, pt)
		}
	}
	if len(f.Status) > 0 {
		clauses = append(clauses, "listing_status IN ("+placeholders(len(f.Status))+")")
		for _, st := range f.Status {
			args = append(args, string(st))
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}
