package log

// Canonical field names for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldEventID  = "event_id"
	FieldTenantID = "tenant_id"
	FieldActorID  = "actor_id"
	FieldVerb     = "verb"
	FieldListing  = "listing"
	FieldCommand  = "command"
	FieldCategory = "category"

	FieldJob      = "job"
	FieldOutcome  = "outcome"
	FieldDuration = "duration"
	FieldNextRun  = "next_run"
)
