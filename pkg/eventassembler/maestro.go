package eventassembler

// Maestro record fields.
const (
	maEventAction   = "eventAction"
	maGroup         = "group"
	maSubGroup      = "subGroup"
	maEventMetadata = "eventMetadata"
	maRequest       = "request"
	maCloud         = "cloud"
	maTenantName    = "tenantName"
	maRegionName    = "regionName"

	maGroupManagement  = "MANAGEMENT"
	maSubGroupInstance = "INSTANCE"
)

// maestroEventRef is a CloudTrail-style (source, eventName) pair a maestro
// (subGroup, action) maps to.
type maestroEventRef struct {
	Source string
	Name   string
}

// maestroAzureTable maps (subGroup, action) to Azure activity events. The
// table is static: maestro's management actions are a closed vocabulary.
var maestroAzureTable = map[string]map[string][]maestroEventRef{
	maSubGroupInstance: {
		"CREATE": {{Source: "Microsoft.Compute", Name: "virtualMachines/write"}},
		"START":  {{Source: "Microsoft.Compute", Name: "virtualMachines/start/action"}},
		"STOP":   {{Source: "Microsoft.Compute", Name: "virtualMachines/deallocate/action"}},
		"DELETE": {{Source: "Microsoft.Compute", Name: "virtualMachines/delete"}},
		"RESIZE": {{Source: "Microsoft.Compute", Name: "virtualMachines/write"}},
	},
}

// maestroGoogleTable maps (subGroup, action) to GCP audit events.
var maestroGoogleTable = map[string]map[string][]maestroEventRef{
	maSubGroupInstance: {
		"CREATE": {{Source: "compute.googleapis.com", Name: "v1.compute.instances.insert"}},
		"START":  {{Source: "compute.googleapis.com", Name: "v1.compute.instances.start"}},
		"STOP":   {{Source: "compute.googleapis.com", Name: "v1.compute.instances.stop"}},
		"DELETE": {{Source: "compute.googleapis.com", Name: "v1.compute.instances.delete"}},
		"RESIZE": {{Source: "compute.googleapis.com", Name: "v1.compute.instances.setMachineType"}},
	},
}

// maestroProcessor filters maestro audit events. Only management instance
// events for Azure and GCP are processed; AWS maestro events are ignored,
// though the data model would allow them.
type maestroProcessor struct{}

// prepared keeps (group=MANAGEMENT, subGroup=INSTANCE, cloud ∈ {AZURE,
// GOOGLE}) records and strips them to the grouping fields.
func (maestroProcessor) prepared(records []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		cloud := deepGet(record, maEventMetadata, maRequest, maCloud)
		if cloud != "AZURE" && cloud != "GOOGLE" {
			continue
		}
		if deepGet(record, maGroup) != maGroupManagement || deepGet(record, maSubGroup) != maSubGroupInstance {
			continue
		}
		stripped := map[string]any{
			maEventAction: deepGet(record, maEventAction),
			maGroup:       maGroupManagement,
			maSubGroup:    maSubGroupInstance,
			maEventMetadata: map[string]any{
				maRequest: map[string]any{maCloud: cloud},
			},
			maTenantName: deepGet(record, maTenantName),
		}
		if region := deepGet(record, maRegionName); region != "" {
			stripped[maRegionName] = region
		}
		out = append(out, stripped)
	}
	return out
}

// maestroGrouped is cloud → tenantName → region → rule set.
type maestroGrouped map[string]map[string]map[string]map[string]struct{}

// group resolves each record through the static maestro table and the
// per-cloud event mapping into rules, grouped by (cloud, tenant, region).
// Azure and GCP regions collapse to global.
func (maestroProcessor) group(records []map[string]any, lookup func(cloud, tenantName, source, eventName string) []string) maestroGrouped {
	out := make(maestroGrouped)
	for _, record := range records {
		cloud := deepGet(record, maEventMetadata, maRequest, maCloud)
		tenantName := deepGet(record, maTenantName)
		if cloud == "" || tenantName == "" {
			continue
		}
		region := "global"

		var table map[string]map[string][]maestroEventRef
		switch cloud {
		case "AZURE":
			table = maestroAzureTable
		case "GOOGLE":
			table = maestroGoogleTable
		default:
			continue
		}
		refs := table[deepGet(record, maSubGroup)][deepGet(record, maEventAction)]
		rules := make(map[string]struct{})
		for _, ref := range refs {
			for _, rule := range lookup(cloud, tenantName, ref.Source, ref.Name) {
				rules[rule] = struct{}{}
			}
		}
		if len(rules) == 0 {
			continue
		}

		byTenant, ok := out[cloud]
		if !ok {
			byTenant = make(map[string]map[string]map[string]struct{})
			out[cloud] = byTenant
		}
		byRegion, ok := byTenant[tenantName]
		if !ok {
			byRegion = make(map[string]map[string]struct{})
			byTenant[tenantName] = byRegion
		}
		set, ok := byRegion[region]
		if !ok {
			set = make(map[string]struct{})
			byRegion[region] = set
		}
		for rule := range rules {
			set[rule] = struct{}{}
		}
	}
	return out
}
