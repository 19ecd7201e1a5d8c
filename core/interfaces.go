package core

// Operation represents a modifying store operation, one of Create, Update,
// Delete. Item mutations are notified as updates of their resource.
type Operation string

// all notified store operations
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Notifier is an interface to receive store mutation notifications
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
