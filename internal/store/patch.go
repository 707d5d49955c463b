package store

// ServicePatch carries only the fields an update should change. nil fields are
// left untouched; this replaces the dynamic SQL string concatenation flagged
// in spec.md §9 with a strongly-typed patch applied via a generated
// UPDATE ... SET with only the present columns.
type ServicePatch struct {
	ServiceName        *string
	Active             *bool
	Muted              *bool
	Down               *bool
	AlertIntervalMin   *int
	Threshold          *int
	GracePeriodSeconds *int
	TeamID             *int64
	Priority           *Priority
	Runbook            *string
	MaxDurationMs      *int64
}

// IsEmpty reports whether the patch has no fields set.
func (p ServicePatch) IsEmpty() bool {
	return p.ServiceName == nil && p.Active == nil && p.Muted == nil && p.Down == nil &&
		p.AlertIntervalMin == nil && p.Threshold == nil && p.GracePeriodSeconds == nil &&
		p.TeamID == nil && p.Priority == nil && p.Runbook == nil && p.MaxDurationMs == nil
}

// Apply returns a copy of svc with the patch's non-nil fields applied. Used
// both to build the snapshot-before-mutation row and, by the Postgres store,
// to derive the parameterized SET clause.
func (p ServicePatch) Apply(svc Service) Service {
	if p.ServiceName != nil {
		svc.ServiceName = *p.ServiceName
	}
	if p.Active != nil {
		svc.Active = *p.Active
	}
	if p.Muted != nil {
		svc.Muted = *p.Muted
	}
	if p.Down != nil {
		svc.Down = *p.Down
	}
	if p.AlertIntervalMin != nil {
		svc.AlertIntervalMin = *p.AlertIntervalMin
	}
	if p.Threshold != nil {
		svc.Threshold = *p.Threshold
	}
	if p.GracePeriodSeconds != nil {
		svc.GracePeriodSeconds = *p.GracePeriodSeconds
	}
	if p.TeamID != nil {
		svc.TeamID = p.TeamID
	}
	if p.Priority != nil {
		svc.Priority = *p.Priority
	}
	if p.Runbook != nil {
		svc.Runbook = *p.Runbook
	}
	if p.MaxDurationMs != nil {
		svc.MaxDurationMs = p.MaxDurationMs
	}
	return svc
}
