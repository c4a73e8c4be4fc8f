package models

// Role classifies a platform user.
type Role string

const (
	RoleTrainee Role = "TRAINEE"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// User represents a platform user visible to chat. Users are looked up,
// never mutated by this subsystem.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	CompanyID *int64 `json:"company_id,omitempty"`
}
