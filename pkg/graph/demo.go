package graph

import (
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

// DemoBatch returns a small warehouse network used by the CLI demo mode and
// by tests. WH_003 has no infrastructure assets and WH_004 no market context.
func DemoBatch() Batch {
	e := func(id string, typ common.EntityType, attrs map[string]any) common.Entity {
		return common.Entity{ID: id, Type: typ, Attributes: attrs}
	}
	r := func(src string, rel common.RelType, dst string) common.Relationship {
		return common.Relationship{Type: rel, SourceID: src, TargetID: dst}
	}

	return Batch{
		Entities: []common.Entity{
			e("ZN_1", common.TypeZone, map[string]any{"name": "Riverside", "region": "North", "flood_prone": true}),
			e("ZN_2", common.TypeZone, map[string]any{"name": "Highland", "region": "South", "flood_prone": false}),

			e("WH_001", common.TypeWarehouse, map[string]any{
				"name": "North Hub", "capacity_size": "Large", "established_year": int64(2005), "owner_type": "Company Owned",
				"location_type": "Urban", "distance_from_hub": 40.0, "workers_count": int64(120), "product_shipped_tons": 5400.0,
			}),
			e("WH_002", common.TypeWarehouse, map[string]any{
				"name": "River Depot", "capacity_size": "Mid", "established_year": int64(1998), "owner_type": "Rented",
				"location_type": "Rural", "distance_from_hub": 220.0, "workers_count": int64(45), "product_shipped_tons": 1800.0,
			}),
			e("WH_003", common.TypeWarehouse, map[string]any{
				"name": "Highland Store", "capacity_size": "Small", "established_year": int64(2015), "owner_type": "Govt",
				"location_type": "Rural", "distance_from_hub": 120.0, "workers_count": int64(20), "product_shipped_tons": 600.0,
			}),
			e("WH_004", common.TypeWarehouse, map[string]any{
				"name": "Central Depot", "capacity_size": "Mid", "established_year": int64(2010), "owner_type": "Company Owned",
				"location_type": "Urban", "distance_from_hub": 30.0, "workers_count": int64(60), "product_shipped_tons": 2500.0,
			}),

			e("IA_001", common.TypeInfrastructureAsset, map[string]any{"name": "North Hub flood barrier", "asset_type": schema.AssetFloodProtection, "operational": true}),
			e("IA_002", common.TypeInfrastructureAsset, map[string]any{"name": "North Hub generator", "asset_type": schema.AssetElectricBackup, "operational": true}),
			e("IA_003", common.TypeInfrastructureAsset, map[string]any{"name": "North Hub cooling", "asset_type": schema.AssetTemperatureRegulation, "operational": true}),
			e("IA_004", common.TypeInfrastructureAsset, map[string]any{"name": "River Depot generator", "asset_type": schema.AssetElectricBackup, "operational": false}),
			e("IA_005", common.TypeInfrastructureAsset, map[string]any{"name": "Central Depot cooling", "asset_type": schema.AssetTemperatureRegulation, "operational": true}),

			e("RE_001", common.TypeRiskEvent, map[string]any{"event_type": schema.EventBreakdown, "severity": "low", "occurrence_count": int64(1), "time_period": "l3m"}),
			e("RE_002", common.TypeRiskEvent, map[string]any{"event_type": schema.EventBreakdown, "severity": "high", "occurrence_count": int64(3), "time_period": "l3m"}),
			e("RE_003", common.TypeRiskEvent, map[string]any{"event_type": schema.EventStorageIssue, "severity": "medium", "occurrence_count": int64(2), "time_period": "l1y"}),
			e("RE_004", common.TypeRiskEvent, map[string]any{"event_type": schema.EventTransportIssue, "severity": "medium", "occurrence_count": int64(1), "time_period": "l1y"}),

			e("MC_001", common.TypeMarketContext, map[string]any{"name": "Riverside market", "competitor_count": int64(3), "retail_shop_count": int64(2500), "distributor_count": int64(12), "flood_impacted": true}),
			e("MC_002", common.TypeMarketContext, map[string]any{"name": "Delta market", "competitor_count": int64(8), "retail_shop_count": int64(400), "distributor_count": int64(4), "flood_impacted": true}),
			e("MC_003", common.TypeMarketContext, map[string]any{"name": "Highland market", "competitor_count": int64(1), "retail_shop_count": int64(6000), "distributor_count": int64(20), "flood_impacted": false}),

			e("MG_001", common.TypeManager, map[string]any{"name": "Alex Morgan"}),
			e("MG_002", common.TypeManager, map[string]any{"name": "Sam Rivera"}),
		},
		Relationships: []common.Relationship{
			r("WH_001", common.RelLocatedIn, "ZN_1"),
			r("WH_002", common.RelLocatedIn, "ZN_1"),
			r("WH_003", common.RelLocatedIn, "ZN_2"),
			r("WH_004", common.RelLocatedIn, "ZN_2"),

			r("WH_001", common.RelHasInfrastructure, "IA_001"),
			r("WH_001", common.RelHasInfrastructure, "IA_002"),
			r("WH_001", common.RelHasInfrastructure, "IA_003"),
			r("WH_002", common.RelHasInfrastructure, "IA_004"),
			r("WH_004", common.RelHasInfrastructure, "IA_005"),

			r("WH_001", common.RelExperienced, "RE_001"),
			r("WH_002", common.RelExperienced, "RE_002"),
			r("WH_002", common.RelExperienced, "RE_003"),
			r("WH_003", common.RelExperienced, "RE_004"),

			r("WH_001", common.RelOperatesIn, "MC_001"),
			r("WH_002", common.RelOperatesIn, "MC_002"),
			r("WH_003", common.RelOperatesIn, "MC_003"),

			r("MG_001", common.RelManages, "WH_001"),
			r("MG_002", common.RelManages, "WH_002"),
			r("MG_002", common.RelManages, "WH_003"),

			r("WH_001", common.RelNear, "WH_002"),
			r("WH_002", common.RelNear, "IA_001"),
			r("WH_001", common.RelSupplies, "WH_004"),
		},
	}
}
