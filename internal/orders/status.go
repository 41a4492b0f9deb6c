package orders

type Status string

const (
	StatusNoPay    Status = "NO_PAY"
	StatusPayed    Status = "PAYED"
	StatusClosed   Status = "CLOSED"
	StatusFinished Status = "FINISHED"
	StatusEnrolled Status = "ENROLLED"
	StatusRefunded Status = "REFUNDED"
)

// Transitions owned by this service. FINISHED and REFUNDED are written by
// the learning and refund services and never entered from here.
var validNext = map[Status]map[Status]bool{
	StatusNoPay: {StatusPayed: true, StatusClosed: true},
	// a payment settled after the user closed the order is still recorded
	StatusClosed:   {StatusPayed: true},
	StatusPayed:    {},
	StatusEnrolled: {},
	StatusFinished: {},
	StatusRefunded: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Final reports whether this service never moves an order out of s.
func (s Status) Final() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

var statusInfo = map[Status]struct{ desc, progress string }{
	StatusNoPay:    {"awaiting payment", "order submitted"},
	StatusPayed:    {"paid", "payment succeeded"},
	StatusClosed:   {"closed", "order closed"},
	StatusFinished: {"finished", "order completed"},
	StatusEnrolled: {"enrolled", "enrollment succeeded"},
	StatusRefunded: {"refunded", "refund completed"},
}

func (s Status) Valid() bool {
	_, ok := statusInfo[s]
	return ok
}

// Desc is the label shown in order lists.
func (s Status) Desc() string {
	if i, ok := statusInfo[s]; ok {
		return i.desc
	}
	return string(s)
}

// ProgressName is the milestone name used in order detail timelines.
func (s Status) ProgressName() string {
	if i, ok := statusInfo[s]; ok {
		return i.progress
	}
	return string(s)
}

// CanRefund reports whether an order in this status may start a refund.
func (s Status) CanRefund() bool {
	return s == StatusPayed || s == StatusFinished
}
