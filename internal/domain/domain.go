package domain

// Role is the closed set of marketplace roles. A user holds exactly one.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleBuyer  Role = "BUYER"
	RoleSolver Role = "SOLVER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleBuyer, RoleSolver:
		return true
	}
	return false
}

// Actor is the verified identity every engine operation acts on behalf of.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type ProjectStatus string

const (
	ProjectOpen      ProjectStatus = "OPEN"
	ProjectAssigned  ProjectStatus = "ASSIGNED"
	ProjectCompleted ProjectStatus = "COMPLETED"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

type TaskStatus string

const (
	TaskInProgress        TaskStatus = "IN_PROGRESS"
	TaskSubmitted         TaskStatus = "SUBMITTED"
	TaskCompleted         TaskStatus = "COMPLETED"
	TaskRevisionRequested TaskStatus = "REVISION_REQUESTED"
)

type SubmissionStatus string

const (
	SubmissionPendingReview SubmissionStatus = "PENDING_REVIEW"
	SubmissionAccepted      SubmissionStatus = "ACCEPTED"
	SubmissionRejected      SubmissionStatus = "REJECTED"
)

type User struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Role      Role     `json:"role" enum:"ADMIN,BUYER,SOLVER"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

// Project is owned by the buyer who created it. AssignedSolverID is set
// exactly once, by AcceptRequest, and is non-nil iff the status is
// ASSIGNED or COMPLETED.
type Project struct {
	ID               string        `json:"id"`
	BuyerID          string        `json:"buyer_id"`
	AssignedSolverID *string       `json:"assigned_solver_id,omitempty"`
	Title            string        `json:"title"`
	Description      string        `json:"description,omitempty"`
	Budget           *float64      `json:"budget,omitempty"`
	Deadline         *string       `json:"deadline,omitempty" format:"date-time"`
	Status           ProjectStatus `json:"status" enum:"OPEN,ASSIGNED,COMPLETED"`
	CreatedAt        string        `json:"created_at" format:"date-time"`
	UpdatedAt        string        `json:"updated_at" format:"date-time"`
}

// Request is a solver's bid on an OPEN project. At most one row exists per
// (project, solver) pair, and at most one request per project ever reaches
// ACCEPTED.
type Request struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	SolverID    string        `json:"solver_id"`
	CoverLetter string        `json:"cover_letter,omitempty"`
	Status      RequestStatus `json:"status" enum:"PENDING,ACCEPTED,REJECTED"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// Task belongs to an ASSIGNED project and is created by its assigned
// solver. Status is driven by the submission lifecycle, not edited
// directly.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	CreatedBy   string     `json:"created_by"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Deadline    *string    `json:"deadline,omitempty" format:"date-time"`
	Status      TaskStatus `json:"status" enum:"IN_PROGRESS,SUBMITTED,COMPLETED,REVISION_REQUESTED"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
}

// Submission is one delivered archive for a task. Rows are never deleted;
// the full revision history is retained. ReviewerNotes is set only on
// rejection.
type Submission struct {
	ID            string           `json:"id"`
	TaskID        string           `json:"task_id"`
	BlobRef       string           `json:"blob_ref"`
	FileName      string           `json:"file_name"`
	FileSize      int64            `json:"file_size"`
	Notes         string           `json:"notes,omitempty"`
	ReviewerNotes string           `json:"reviewer_notes,omitempty"`
	Status        SubmissionStatus `json:"status" enum:"PENDING_REVIEW,ACCEPTED,REJECTED"`
	SubmittedAt   string           `json:"submitted_at" format:"date-time"`
	ReviewedAt    *string          `json:"reviewed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
