package types

import "time"

// State is a sandbox's derived lifecycle state. It is never stored; it is
// recomputed from host observations on every query (see pkg/sandbox).
type State string

const (
	StateNone         State = "NONE"
	StateProvisioning State = "PROVISIONING"
	StateFailed       State = "FAILED"
	StateStop         State = "STOP"
	StateBoot         State = "BOOT"
	StateReady        State = "READY"
	StateArchiving    State = "ARCHIVING"
	StateArchived     State = "ARCHIVED"
)

// Event is a request to transition a sandbox.
type Event string

const (
	EventProvisioning    Event = "PROVISIONING"
	EventStart           Event = "START"
	EventOpenNetwork     Event = "OPEN_NETWORK"
	EventLameduckNetwork Event = "LAMEDUCK_NETWORK"
	EventShutdown        Event = "SHUTDOWN"
	EventReboot          Event = "REBOOT"
	EventStop            Event = "STOP"
	EventDestroy         Event = "DESTROY"
	EventArchive         Event = "ARCHIVE"
)

// ResponseStatus is the outcome of a synchronous or enqueue-only operation.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "SUCCESS"
	StatusFailed  ResponseStatus = "FAILED"
)

// EventResponse is returned by every sendEvent call and every synchronous
// handler inside it.
type EventResponse struct {
	Status      ResponseStatus
	Description string
}

// Requirements is the `requirements` sub-message of sandbox.proto.
type Requirements struct {
	// Disk is non-empty when the sandbox wants an LVM-backed rootfs, e.g. "4G".
	Disk  string
	Ports []int
}

// Spec is the sandbox.proto record: the immutable provisioning request for
// a sandbox, written to disk as received once provisioning succeeds.
type Spec struct {
	Role             string
	Owner            string
	Version          string
	System           string
	SystemOptions    string
	ProvisioningTime int64 // unix seconds; doubles as the alternative's priority
	Requirements     Requirements
}

// ReservedPort is one line of a sandbox's `ports` file.
type ReservedPort struct {
	Port  int
	Flags []string
}

// HasFlag reports whether the port line carries the given flag token.
func (p ReservedPort) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// GenericName identifies an alternatives group: all sandboxes that are
// interchangeable versions of the same role for the same owner.
type GenericName struct {
	Role  string
	Owner string
}

// AlternativesMode governs whether the registry auto-selects the
// highest-priority alternative or a pinned choice is in effect.
type AlternativesMode string

const (
	ModeAuto   AlternativesMode = "AUTO"
	ModeManual AlternativesMode = "MANUAL"
)

// Alternative is one registered sandbox version under a GenericName.
type Alternative struct {
	SandboxID  string
	TargetPath string
	Priority   int
	Spec       *Spec // nil if sandbox.proto could not be read for this target
}

// AlternativesView is the result of querying a GenericName's registration.
type AlternativesView struct {
	Mode              AlternativesMode
	CurrentTargetPath string
	CurrentSandboxID  string
	Alternatives      []Alternative
}

// TaskKind distinguishes the two long-running worker tasks.
type TaskKind string

const (
	TaskKindProvisioning TaskKind = "provisioning"
	TaskKindArchive      TaskKind = "archive"
)

// TaskSubstatus is the fine-grained phase a running task reports; Sandbox's
// state derivation consults this alongside TaskKind.
type TaskSubstatus string

const (
	SubstatusCreating  TaskSubstatus = "CREATING"
	SubstatusArchiving TaskSubstatus = "ARCHIVING"
	SubstatusDone      TaskSubstatus = "DONE"
	SubstatusFailed    TaskSubstatus = "FAILED"
)

// TaskSnapshot is a point-in-time read of a worker's current task, used by
// state derivation and by getState's description field.
type TaskSnapshot struct {
	Kind      TaskKind
	Substatus TaskSubstatus
	Progress  string
	StartedAt time.Time
}
