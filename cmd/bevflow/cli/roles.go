package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bevflow/bevflow/internal/rbac"
)

// RolesCheckOptions defines the flags of the roles check command.
type RolesCheckOptions struct {
	Path       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RolesCheckSummary is the JSON output of roles check.
type RolesCheckSummary struct {
	OK    bool               `json:"ok"`
	Error string             `json:"error,omitempty"`
	Roles []RolesCheckDetail `json:"roles"`
}

// RolesCheckDetail reports what one role may open.
type RolesCheckDetail struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Pages   []string `json:"pages"`
	Actions []string `json:"actions"`
	// Orphaned lists granted actions whose page is not granted.
	Orphaned []string `json:"orphaned,omitempty"`
}

// RolesCheckCommand validates a role file and prints what each role grants.
// It exits 1 when the file cannot be loaded and 10 when a role grants an
// action on a page it cannot open.
func RolesCheckCommand(opts RolesCheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.Path) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "roles check: file path is required")
		return 1
	}
	registry, err := rbac.LoadRegistryFile(opts.Path)
	if err != nil {
		if opts.JSONOutput {
			_ = json.NewEncoder(opts.Stdout).Encode(RolesCheckSummary{Error: err.Error(), Roles: []RolesCheckDetail{}})
		}
		_, _ = fmt.Fprintf(opts.Stderr, "roles check: %v\n", err)
		return 1
	}
	summary := buildRolesSummary(registry)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "roles check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderRolesHuman(opts.Stdout, opts.Path, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildRolesSummary(registry *rbac.Registry) RolesCheckSummary {
	summary := RolesCheckSummary{OK: true}
	for _, role := range registry.ListRoles() {
		detail := RolesCheckDetail{ID: role.ID, Name: role.Name, Pages: []string{}, Actions: []string{}}
		for _, p := range role.Granted() {
			if p.IsPage() {
				detail.Pages = append(detail.Pages, string(p))
				continue
			}
			detail.Actions = append(detail.Actions, string(p))
			if !role.Permissions[p.Page()] {
				detail.Orphaned = append(detail.Orphaned, string(p))
			}
		}
		if len(detail.Orphaned) > 0 {
			summary.OK = false
		}
		summary.Roles = append(summary.Roles, detail)
	}
	return summary
}

func renderRolesHuman(out io.Writer, path string, summary RolesCheckSummary) {
	_, _ = fmt.Fprintf(out, "%d role(s) in %s\n", len(summary.Roles), path)
	for _, role := range summary.Roles {
		_, _ = fmt.Fprintf(out, " - %s (%s): %d page(s), %d action(s)\n", role.ID, role.Name, len(role.Pages), len(role.Actions))
		if len(role.Orphaned) > 0 {
			_, _ = fmt.Fprintf(out, "   actions without page access: %s\n", strings.Join(role.Orphaned, ", "))
		}
	}
}
