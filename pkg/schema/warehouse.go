package schema

import "github.com/OFFIS-RIT/warehouse-risk/pkg/common"

// Version of the built-in warehouse schema.
const WarehouseSchemaVersion = "warehouse/v1"

// Asset types of InfrastructureAsset nodes.
const (
	AssetFloodProtection       = "FloodProtection"
	AssetElectricBackup        = "ElectricBackup"
	AssetTemperatureRegulation = "TemperatureRegulation"
	AssetCertificate           = "Certificate"
)

// Risk event types.
const (
	EventBreakdown      = "breakdown"
	EventStorageIssue   = "storage_issue"
	EventTransportIssue = "transport_issue"
)

// Warehouse returns the registry describing the warehouse network.
func Warehouse() *Registry {
	types := []EntityType{
		{
			Name:     common.TypeWarehouse,
			Keywords: []string{"warehouse", "warehouses", "depot", "depots", "site", "sites", "facility", "facilities"},
			Attributes: []Attribute{
				{Name: "name", Kind: KindString},
				{Name: "capacity_size", Kind: KindString, Values: []string{"Small", "Mid", "Large"}, Synonyms: []string{"capacity", "size"}},
				{Name: "established_year", Kind: KindInt, Synonyms: []string{"age", "established", "founded"}},
				{Name: "owner_type", Kind: KindString, Synonyms: []string{"ownership", "owner"}},
				{Name: "location_type", Kind: KindString, RiskRelevant: true, Values: []string{"Urban", "Rural"}, Synonyms: []string{"location type"}},
				{Name: "distance_from_hub", Kind: KindFloat, RiskRelevant: true, Synonyms: []string{"distance", "hub distance"}},
				{Name: "workers_count", Kind: KindInt, Synonyms: []string{"workers", "staff", "employees", "headcount"}},
				{Name: "product_shipped_tons", Kind: KindFloat, Synonyms: []string{"shipped", "shipments", "volume", "throughput", "tons"}},
				{Name: "govt_checks_l3m", Kind: KindInt, Synonyms: []string{"government checks", "inspections"}},
				{Name: "refill_requests_l3m", Kind: KindInt, Synonyms: []string{"refill requests", "refills"}},
			},
		},
		{
			Name:     common.TypeInfrastructureAsset,
			Keywords: []string{"infrastructure", "asset", "assets", "equipment", "backup", "generator", "generators"},
			Attributes: []Attribute{
				{Name: "name", Kind: KindString},
				{
					Name: "asset_type", Kind: KindString, RiskRelevant: true,
					Values: []string{AssetFloodProtection, AssetElectricBackup, AssetTemperatureRegulation, AssetCertificate},
				},
				{Name: "operational", Kind: KindBool, RiskRelevant: true},
				{Name: "certificate_type", Kind: KindString},
			},
		},
		{
			Name:     common.TypeRiskEvent,
			Keywords: []string{"incident", "incidents", "event", "events", "breakdown", "breakdowns", "outage", "outages"},
			Attributes: []Attribute{
				{Name: "name", Kind: KindString},
				{
					Name: "event_type", Kind: KindString, RiskRelevant: true,
					Values: []string{EventBreakdown, EventStorageIssue, EventTransportIssue},
				},
				{Name: "severity", Kind: KindString, Values: []string{"low", "medium", "high"}},
				{Name: "occurrence_count", Kind: KindInt, RiskRelevant: true, Synonyms: []string{"occurrences"}},
				{Name: "time_period", Kind: KindString, Values: []string{"l3m", "l1y"}},
			},
		},
		{
			Name:     common.TypeMarketContext,
			Keywords: []string{"market", "markets", "competition", "competitor", "competitors"},
			Attributes: []Attribute{
				{Name: "name", Kind: KindString},
				{Name: "competitor_count", Kind: KindInt, RiskRelevant: true, Synonyms: []string{"competitors", "competition"}},
				{Name: "retail_shop_count", Kind: KindInt, RiskRelevant: true, Synonyms: []string{"retail shops", "shops", "retailers"}},
				{Name: "distributor_count", Kind: KindInt, Synonyms: []string{"distributors"}},
				{Name: "flood_impacted", Kind: KindBool, RiskRelevant: true},
			},
		},
		{
			Name:     common.TypeManager,
			Keywords: []string{"manager", "managers", "operator", "operators"},
			Attributes: []Attribute{
				{Name: "name", Kind: KindString},
			},
		},
		{
			Name:     common.TypeZone,
			Keywords: []string{"zone", "zones", "region", "regions", "area", "areas"},
			Attributes: []Attribute{
				{Name: "name", Kind: KindString},
				{Name: "region", Kind: KindString},
				{Name: "flood_prone", Kind: KindBool, RiskRelevant: true},
			},
		},
	}

	triples := []Triple{
		{common.TypeWarehouse, common.RelLocatedIn, common.TypeZone},
		{common.TypeInfrastructureAsset, common.RelLocatedIn, common.TypeZone},
		{common.TypeManager, common.RelManages, common.TypeWarehouse},
		{common.TypeWarehouse, common.RelExperienced, common.TypeRiskEvent},
		{common.TypeWarehouse, common.RelSupplies, common.TypeWarehouse},
		{common.TypeWarehouse, common.RelNear, common.TypeWarehouse},
		{common.TypeWarehouse, common.RelNear, common.TypeInfrastructureAsset},
		{common.TypeZone, common.RelNear, common.TypeZone},
		{common.TypeWarehouse, common.RelHasInfrastructure, common.TypeInfrastructureAsset},
		{common.TypeWarehouse, common.RelOperatesIn, common.TypeMarketContext},
	}

	r, err := New(WarehouseSchemaVersion, types, triples)
	if err != nil {
		panic(err)
	}
	return r
}
