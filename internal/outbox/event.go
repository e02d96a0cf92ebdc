package outbox

// Event types emitted by the scheduler. Topic name equals event type.
const (
	EventAppointmentBooked    = "appointments.booked.v1"
	EventAppointmentCancelled = "appointments.cancelled.v1"
	EventReminderSent         = "appointments.reminder.sent.v1"
)

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
