package log

// Canonical field name constants for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldRunID     = "run_id"

	FieldTrain      = "train"
	FieldTVDSection = "tvd_section"
	FieldSignal     = "signal"
	FieldAspect     = "aspect"
	FieldSimTime    = "sim_time"
	FieldPosition   = "position"
	FieldSpeed      = "speed"
	FieldStatus     = "status"
)
