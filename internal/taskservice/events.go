package taskservice

// Event is the payload Service hands to EventPublisher.Publish, kept as a
// plain struct so the lifecycle logic in service.go never imports the
// generated event types. Nothing in this module encodes it into an
// eventstypes.Task* message: internal/shim/manager builds the Service with
// a nil EventPublisher, so publishEvent drops every event.
type Event struct {
	ContainerID string
	ExecID      string
}

// Topic names, grouped here rather than inlined at each call site.
const (
	TopicCreate      = "/tasks/create"
	TopicStart       = "/tasks/start"
	TopicExecStarted = "/tasks/exec-started"
	TopicExecDeleted = "/tasks/exec-deleted"
	TopicDelete      = "/tasks/delete"
	TopicExit        = "/tasks/exit"
)
