package email

const (
	subjectDeadLetter      = "Action required: service request stuck after repeated failures"
	subjectDispatchExpired = "Unassigned job: no subcontractor responded in time"
)
