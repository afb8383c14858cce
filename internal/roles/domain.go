package roles

// RoleView is a role as the admin screens show it.
type RoleView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Pages       []string `json:"pages"`
	Actions     []string `json:"actions"`
	Denied      []string `json:"denied,omitempty"`
}
