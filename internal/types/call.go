package types

// CallStatus represents the lifecycle state of a call
type CallStatus string

const (
	CallStatusQueued    CallStatus = "QUEUED"    // waiting for an agent
	CallStatusActive    CallStatus = "ACTIVE"    // being handled by an agent
	CallStatusEnded     CallStatus = "ENDED"     // finished normally or forced
	CallStatusAbandoned CallStatus = "ABANDONED" // caller hung up while waiting
)

// Terminal reports whether no further transitions are allowed from s
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusAbandoned
}

// Valid reports whether s is a known status
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusQueued, CallStatusActive, CallStatusEnded, CallStatusAbandoned:
		return true
	}
	return false
}

// CanTransition enforces QUEUED->ACTIVE, QUEUED->ABANDONED and ACTIVE->ENDED
func CanTransition(from, to CallStatus) bool {
	switch from {
	case CallStatusQueued:
		return to == CallStatusActive || to == CallStatusAbandoned
	case CallStatusActive:
		return to == CallStatusEnded
	}
	return false
}

// CallKind separates fresh calls from reactivated ones
type CallKind string

const (
	CallKindRegular  CallKind = "REGULAR"
	CallKindCallback CallKind = "CALLBACK"
)

// GenerationStatus tracks conversation provisioning for a call
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationGenerating GenerationStatus = "generating"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Call is a single customer interaction record
type Call struct {
	ID                      string           `json:"id"`
	CustomerPhone           string           `json:"customerPhone"`
	AgentID                 *string          `json:"agentId"`
	Status                  CallStatus       `json:"status"`
	Kind                    CallKind         `json:"callType"`
	Issue                   string           `json:"issue,omitempty"`
	WaitTimeSeconds         int64            `json:"waitTime"`
	StartTime               *int64           `json:"startTime"`
	EndTime                 *int64           `json:"endTime"`
	ExpectedDurationSeconds *int64           `json:"expectedDuration"`
	GenerationStatus        GenerationStatus `json:"generationStatus"`
	GenerationAttempts      int              `json:"generationAttempts"`
	CreatedAt               int64            `json:"createdAt"`
	UpdatedAt               int64            `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share pointer fields with the store
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	cp := *c
	cp.AgentID = cloneString(c.AgentID)
	cp.StartTime = cloneInt64(c.StartTime)
	cp.EndTime = cloneInt64(c.EndTime)
	cp.ExpectedDurationSeconds = cloneInt64(c.ExpectedDurationSeconds)
	return &cp
}

// Agent returns the assigned agent id or ""
func (c *Call) Agent() string {
	if c.AgentID == nil {
		return ""
	}
	return *c.AgentID
}

// Elapsed returns seconds since start, or 0 when not started
func (c *Call) Elapsed(now int64) int64 {
	if c.StartTime == nil {
		return 0
	}
	return now - *c.StartTime
}

// Remaining returns expected minus elapsed seconds; ok is false without a start or prediction.
// A negative value means the call is overdue.
func (c *Call) Remaining(now int64) (remaining int64, ok bool) {
	if c.StartTime == nil || c.ExpectedDurationSeconds == nil {
		return 0, false
	}
	return *c.ExpectedDurationSeconds - c.Elapsed(now), true
}

// CallSpec describes a call to create
type CallSpec struct {
	ID                      string
	CustomerPhone           string
	Issue                   string
	Kind                    CallKind
	AgentID                 string // when set the call starts ACTIVE
	StartTime               *int64
	ExpectedDurationSeconds *int64
	Status                  CallStatus // optional override, QUEUED or ABANDONED only
	WaitTimeSeconds         int64
}

// TransitionFields carries the fields applied alongside a status change
type TransitionFields struct {
	AgentID         *string
	StartTime       *int64
	EndTime         *int64
	WaitTimeSeconds *int64
	Kind            CallKind
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr returns a pointer to v
func StringPtr(v string) *string { return &v }

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// String implements fmt.Stringer
func (s CallStatus) String() string { return string(s) }
