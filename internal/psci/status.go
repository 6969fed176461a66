package psci

import "fmt"

// Status is the PSCI return code handed back to the guest in X0. It is a
// distinct concept from a Go error: it is wire protocol, not a Go-level
// failure, so handlers return (Status, nil) on every well-formed call and
// only return a Go error for an invariant violation the hypervisor itself
// must never allow past.
type Status int32

const (
	Success           Status = 0
	NotSupported      Status = -1
	InvalidParameters Status = -2
	OperationDenied   Status = -3
	AlreadyOn         Status = -4
	OnPending         Status = -5
	InternalFailure   Status = -6
	NotPresent        Status = -7
	Disabled          Status = -8
	InvalidAddress    Status = -9
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case NotSupported:
		return "NOT_SUPPORTED"
	case InvalidParameters:
		return "INVALID_PARAMETERS"
	case OperationDenied:
		return "OPERATION_DENIED"
	case AlreadyOn:
		return "ALREADY_ON"
	case OnPending:
		return "ON_PENDING"
	case InternalFailure:
		return "INTERNAL_FAILURE"
	case NotPresent:
		return "NOT_PRESENT"
	case Disabled:
		return "DISABLED"
	case InvalidAddress:
		return "INVALID_ADDRESS"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}
