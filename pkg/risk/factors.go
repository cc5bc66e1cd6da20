package risk

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// Category groups risk factors.
type Category string

const (
	CategoryInfrastructure Category = "Infrastructure"
	CategoryLocation       Category = "Location"
	CategoryOperational    Category = "Operational"
	CategoryMarket         Category = "Market"
)

// Categories in their fixed evaluation and tie-break order.
var Categories = []Category{CategoryInfrastructure, CategoryLocation, CategoryOperational, CategoryMarket}

// Factor names.
const (
	FactorFloodProtection       = "flood_protection"
	FactorElectricBackup        = "electric_backup"
	FactorTemperatureRegulation = "temperature_regulation"
	FactorFloodExposure         = "flood_exposure"
	FactorHubDistance           = "hub_distance"
	FactorLocationType          = "location_type"
	FactorBreakdowns            = "breakdowns"
	FactorStorageIssues         = "storage_issues"
	FactorTransportIssues       = "transport_issues"
	FactorCompetition           = "competition"
	FactorFloodImpacted         = "flood_impacted"
	FactorRetailDensity         = "retail_density"
)

// FactorSpec is one entry of the factor catalogue.
type FactorSpec struct {
	Category Category
	Name     string
	Action   string
}

// Catalogue lists every factor in evaluation order.
var Catalogue = []FactorSpec{
	{CategoryInfrastructure, FactorFloodProtection, "Implement flood protection measures"},
	{CategoryInfrastructure, FactorElectricBackup, "Install electric backup system"},
	{CategoryInfrastructure, FactorTemperatureRegulation, "Install or repair temperature regulation"},
	{CategoryLocation, FactorFloodExposure, "Prepare a flood contingency plan for the site"},
	{CategoryLocation, FactorHubDistance, "Review transport routes to the nearest hub"},
	{CategoryLocation, FactorLocationType, "Review access and staffing for the site location"},
	{CategoryOperational, FactorBreakdowns, "Schedule preventive maintenance for recurring breakdowns"},
	{CategoryOperational, FactorStorageIssues, "Investigate recurring incident patterns in storage"},
	{CategoryOperational, FactorTransportIssues, "Review transport partners and routes"},
	{CategoryMarket, FactorCompetition, "Review pricing and service levels against competitors"},
	{CategoryMarket, FactorFloodImpacted, "Diversify supply away from flood impacted markets"},
	{CategoryMarket, FactorRetailDensity, "Strengthen distribution to the local retail network"},
}

func specOf(name string) (FactorSpec, bool) {
	for _, s := range Catalogue {
		if s.Name == name {
			return s, true
		}
	}
	return FactorSpec{}, false
}

// inputs is the neighborhood of a warehouse sorted by entity type.
type inputs struct {
	warehouse common.Entity
	assets    []common.Entity
	events    []common.Entity
	markets   []common.Entity
	zones     []common.Entity
}

func newInputs(warehouse common.Entity, related []common.Entity) inputs {
	in := inputs{warehouse: warehouse}
	for _, e := range related {
		switch e.Type {
		case common.TypeInfrastructureAsset:
			in.assets = append(in.assets, e)
		case common.TypeRiskEvent:
			in.events = append(in.events, e)
		case common.TypeMarketContext:
			in.markets = append(in.markets, e)
		case common.TypeZone:
			in.zones = append(in.zones, e)
		}
	}
	return in
}

// raw is an evaluated factor before weighting.
type raw struct {
	value  float64
	detail string
}

// evaluator computes the raw value of a factor. ok is false when the inputs
// the factor needs are missing.
type evaluator func(in inputs) (r raw, ok bool)

var evaluators = map[string]evaluator{
	FactorFloodProtection:       floodProtection,
	FactorElectricBackup:        assetFactor(schema.AssetElectricBackup, "electric backup"),
	FactorTemperatureRegulation: assetFactor(schema.AssetTemperatureRegulation, "temperature regulation"),
	FactorFloodExposure:         floodExposure,
	FactorHubDistance:           hubDistance,
	FactorLocationType:          locationType,
	FactorBreakdowns:            breakdowns,
	FactorStorageIssues:         storageIssues,
	FactorTransportIssues:       transportIssues,
	FactorCompetition:           competition,
	FactorFloodImpacted:         floodImpacted,
	FactorRetailDensity:         retailDensity,
}

// floodProne reports whether any zone of the warehouse is flood prone. known
// is false when no zone carries the flag.
func (in inputs) floodProne() (prone, known bool) {
	for _, z := range in.zones {
		v, ok := z.Attributes["flood_prone"]
		if !ok {
			continue
		}
		if b, ok := common.AsBool(v); ok {
			known = true
			prone = prone || b
		}
	}
	return prone, known
}

// hasAsset reports whether an operational asset of the given type exists.
// Assets without the operational flag count as operational.
func (in inputs) hasAsset(assetType string) bool {
	for _, a := range in.assets {
		if t, _ := a.Attributes["asset_type"].(string); t != assetType {
			continue
		}
		if v, ok := a.Attributes["operational"]; ok {
			if b, ok := common.AsBool(v); ok && !b {
				continue
			}
		}
		return true
	}
	return false
}

// occurrences sums occurrence_count over events of a type. Events without
// a count count once.
func (in inputs) occurrences(eventType string) int64 {
	var n int64
	for _, e := range in.events {
		if t, _ := e.Attributes["event_type"].(string); t != eventType {
			continue
		}
		c, ok := common.AsInt(e.Attributes["occurrence_count"])
		if !ok {
			c = 1
		}
		n += c
	}
	return n
}

func floodProtection(in inputs) (raw, bool) {
	prone, known := in.floodProne()
	present := in.hasAsset(schema.AssetFloodProtection)

	exposure := "zone not flood prone"
	if prone {
		exposure = "flood prone zone"
	} else if !known {
		exposure = "zone flood exposure unknown"
	}

	switch {
	case prone && !present:
		return raw{100, exposure + " without flood protection"}, true
	case prone:
		return raw{10, exposure + " with flood protection"}, true
	case !present:
		return raw{30, exposure + ", no flood protection"}, true
	default:
		return raw{0, exposure + ", flood protection present"}, true
	}
}

func assetFactor(assetType, label string) evaluator {
	return func(in inputs) (raw, bool) {
		if in.hasAsset(assetType) {
			return raw{0, label + " operational"}, true
		}
		return raw{100, "no operational " + label}, true
	}
}

func floodExposure(in inputs) (raw, bool) {
	prone, known := in.floodProne()
	if !known {
		return raw{}, false
	}
	if prone {
		return raw{100, "located in a flood prone zone"}, true
	}
	return raw{0, "zone is not flood prone"}, true
}

func hubDistance(in inputs) (raw, bool) {
	d, ok := common.AsFloat(in.warehouse.Attributes["distance_from_hub"])
	if !ok {
		return raw{}, false
	}
	detail := fmt.Sprintf("%.0f km from hub", d)
	switch {
	case d < 50:
		return raw{10, detail}, true
	case d < 150:
		return raw{40, detail}, true
	case d < 300:
		return raw{70, detail}, true
	default:
		return raw{100, detail}, true
	}
}

func locationType(in inputs) (raw, bool) {
	t, ok := in.warehouse.Attributes["location_type"].(string)
	if !ok || t == "" {
		return raw{}, false
	}
	switch strings.ToLower(t) {
	case "rural":
		return raw{60, "rural location"}, true
	case "urban":
		return raw{20, "urban location"}, true
	default:
		return raw{40, strings.ToLower(t) + " location"}, true
	}
}

func breakdowns(in inputs) (raw, bool) {
	n := in.occurrences(schema.EventBreakdown)
	detail := fmt.Sprintf("%d breakdowns", n)
	switch {
	case n <= 0:
		return raw{0, detail}, true
	case n == 1:
		return raw{30, detail}, true
	case n == 2:
		return raw{60, detail}, true
	default:
		return raw{100, detail}, true
	}
}

func storageIssues(in inputs) (raw, bool) {
	n := in.occurrences(schema.EventStorageIssue)
	detail := fmt.Sprintf("%d storage issues", n)
	switch {
	case n <= 0:
		return raw{0, detail}, true
	case n <= 2:
		return raw{40, detail}, true
	case n <= 4:
		return raw{70, detail}, true
	default:
		return raw{100, detail}, true
	}
}

func transportIssues(in inputs) (raw, bool) {
	n := in.occurrences(schema.EventTransportIssue)
	if n > 0 {
		return raw{100, fmt.Sprintf("%d transport issues", n)}, true
	}
	return raw{0, "no transport issues"}, true
}

// marketInt returns the highest (worst=max) or lowest (worst=min) value
// of an integer market attribute.
func (in inputs) marketInt(attr string, highest bool) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for _, m := range in.markets {
		v, ok := common.AsInt(m.Attributes[attr])
		if !ok {
			continue
		}
		if !found || (highest && v > best) || (!highest && v < best) {
			best = v
		}
		found = true
	}
	return best, found
}

func competition(in inputs) (raw, bool) {
	n, ok := in.marketInt("competitor_count", true)
	if !ok {
		return raw{}, false
	}
	detail := fmt.Sprintf("%d competitors", n)
	switch {
	case n <= 2:
		return raw{10, detail}, true
	case n <= 5:
		return raw{40, detail}, true
	case n <= 9:
		return raw{70, detail}, true
	default:
		return raw{100, detail}, true
	}
}

func floodImpacted(in inputs) (raw, bool) {
	known := false
	for _, m := range in.markets {
		b, ok := common.AsBool(m.Attributes["flood_impacted"])
		if !ok {
			continue
		}
		if b {
			return raw{100, "market is flood impacted"}, true
		}
		known = true
	}
	if !known {
		return raw{}, false
	}
	return raw{0, "market not flood impacted"}, true
}

func retailDensity(in inputs) (raw, bool) {
	n, ok := in.marketInt("retail_shop_count", false)
	if !ok {
		return raw{}, false
	}
	detail := fmt.Sprintf("%d retail shops", n)
	switch {
	case n >= 5000:
		return raw{10, detail}, true
	case n >= 2000:
		return raw{40, detail}, true
	case n >= 500:
		return raw{70, detail}, true
	default:
		return raw{100, detail}, true
	}
}
