// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	// the root request ID that anchors a workflow instance.
	InstanceID = "instance_id"

	// a request ID assigned by the coordination service to a submitted step.
	RequestID = "request_id"

	Quantity = "quantity"
	Method   = "method"
	StepName = "step_name"

	// next step chosen by the transition resolver
	NextQuantity = "next_quantity"
	NextMethod   = "next_method"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
