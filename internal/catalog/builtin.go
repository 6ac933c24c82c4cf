package catalog

// Builtin is the seed catalog for a fresh deployment. IDs are stable keys on
// purpose: migrations and plan components reference them directly.
//
// Prices are defaults in minor units; tariff plans override per component.
func Builtin() []Component {
	return []Component{
		// Functional modules. UserFacing controls whether a plain user may
		// open the module at all; administration modules stay admin-only.
		{ID: "module:pab", Type: TypeModule, Key: "pab", Name: "Behavioral safety audits", Category: "Safety", DefaultPrice: 150000, UserFacing: true},
		{ID: "module:production_control", Type: TypeModule, Key: "production_control", Name: "Production control", Category: "Safety", DefaultPrice: 200000, UserFacing: true},
		{ID: "module:storage", Type: TypeModule, Key: "storage", Name: "Document storage", Category: "Documents", DefaultPrice: 120000, UserFacing: true},
		{ID: "module:metrics", Type: TypeModule, Key: "metrics", Name: "Metrics and reports", Category: "Analytics", DefaultPrice: 100000, UserFacing: true},
		{ID: "module:dictionaries", Type: TypeModule, Key: "dictionaries", Name: "Audit dictionaries", Category: "Safety", DefaultPrice: 60000, UserFacing: true},
		{ID: "module:users", Type: TypeModule, Key: "users", Name: "User management", Category: "Administration", DefaultPrice: 90000},
		{ID: "module:points", Type: TypeModule, Key: "points", Name: "Incentive points", Category: "Administration", DefaultPrice: 70000},
		{ID: "module:logo_library", Type: TypeModule, Key: "logo_library", Name: "Logo library", Category: "Documents", DefaultPrice: 40000},

		// Pages.
		{ID: "page:dashboard", Type: TypePage, Key: "page_dashboard", Name: "Dashboard", Category: "Core", DefaultPrice: 100000, UserFacing: true},
		{ID: "page:my_metrics", Type: TypePage, Key: "page_my_metrics", Name: "My metrics", Category: "Analytics", DefaultPrice: 50000, UserFacing: true},
		{ID: "page:cabinet", Type: TypePage, Key: "page_cabinet", Name: "User cabinet", Category: "Core", DefaultPrice: 50000, UserFacing: true},
		{ID: "page:org_settings", Type: TypePage, Key: "page_org_settings", Name: "Organization settings", Category: "Administration", DefaultPrice: 80000},
		{ID: "page:additional", Type: TypePage, Key: "page_additional", Name: "Additional materials", Category: "Documents", DefaultPrice: 30000, UserFacing: true},

		// Blocks.
		{ID: "block:hero", Type: TypeBlock, Key: "block_hero", Name: "Hero block", Category: "Landing", DefaultPrice: 50000},
		{ID: "block:stats", Type: TypeBlock, Key: "block_stats", Name: "Statistics block", Category: "Landing", DefaultPrice: 40000},
		{ID: "block:support", Type: TypeBlock, Key: "block_support", Name: "Technical support block", Category: "Landing", DefaultPrice: 25000},

		// Buttons.
		{ID: "button:export_csv", Type: TypeButton, Key: "btn_export_csv", Name: "CSV export", Category: "Analytics", DefaultPrice: 10000},
		{ID: "button:generate_doc", Type: TypeButton, Key: "btn_generate_doc", Name: "Document generation", Category: "Documents", DefaultPrice: 15000},
		{ID: "button:import", Type: TypeButton, Key: "btn_import", Name: "Bulk import", Category: "Administration", DefaultPrice: 10000},
	}
}
