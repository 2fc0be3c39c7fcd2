package eventassembler

// EventBridge / CloudTrail record fields.
const (
	ebDetailType          = "detail-type"
	ebDetail              = "detail"
	ebAccount             = "account"
	ctEventName           = "eventName"
	ctEventSource         = "eventSource"
	ctUserIdentity        = "userIdentity"
	ctAccountID           = "accountId"
	ctRegion              = "awsRegion"
	cloudTrailAPICallType = "AWS API Call via CloudTrail"
)

// awsProcessor filters EventBridge-over-CloudTrail records and strips them
// to the fields the mapping step needs.
type awsProcessor struct {
	// deploymentAccountID is our own account: records it produced are
	// self-events and dropped. Empty disables the check.
	deploymentAccountID string
}

// prepared filters and sieves raw records: only CloudTrail API call events
// survive, self-events are dropped, and each record is stripped to
// (detail-type, eventName, eventSource, accountId, awsRegion).
func (p awsProcessor) prepared(records []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		if deepGet(record, ebDetailType) != cloudTrailAPICallType {
			continue
		}
		accountID := deepGet(record, ebDetail, ctUserIdentity, ctAccountID)
		if p.deploymentAccountID != "" {
			if accountID == p.deploymentAccountID || deepGet(record, ebAccount) == p.deploymentAccountID {
				continue
			}
		}
		out = append(out, map[string]any{
			ebDetailType: cloudTrailAPICallType,
			ebDetail: map[string]any{
				ctEventName:    deepGet(record, ebDetail, ctEventName),
				ctEventSource:  deepGet(record, ebDetail, ctEventSource),
				ctUserIdentity: map[string]any{ctAccountID: accountID},
				ctRegion:       deepGet(record, ebDetail, ctRegion),
			},
		})
	}
	return out
}

// awsGrouped is accountId → region → rule set.
type awsGrouped map[string]map[string]map[string]struct{}

// group resolves each record through the mapping into rules and groups them
// by (account, region). lookup resolves (accountID, source, eventName) to
// rule names via the account's tenant's event-driven license mapping.
func (p awsProcessor) group(records []map[string]any, lookup func(accountID, source, eventName string) []string) awsGrouped {
	out := make(awsGrouped)
	for _, record := range records {
		accountID := deepGet(record, ebDetail, ctUserIdentity, ctAccountID)
		region := deepGet(record, ebDetail, ctRegion)
		if accountID == "" || region == "" {
			continue
		}
		rules := lookup(accountID, deepGet(record, ebDetail, ctEventSource), deepGet(record, ebDetail, ctEventName))
		if len(rules) == 0 {
			continue
		}
		byRegion, ok := out[accountID]
		if !ok {
			byRegion = make(map[string]map[string]struct{})
			out[accountID] = byRegion
		}
		set, ok := byRegion[region]
		if !ok {
			set = make(map[string]struct{})
			byRegion[region] = set
		}
		for _, rule := range rules {
			set[rule] = struct{}{}
		}
	}
	return out
}
