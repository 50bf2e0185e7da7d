package usecase

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Caller is the authenticated identity behind a request. It is passed
// explicitly into every operation that needs authorization.
type Caller struct {
	ID   string
	Role string
}

const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

func (c Caller) IsInstructor() bool {
	return c.ID != "" && c.Role == RoleInstructor
}

// Profile holds the student-supplied registration fields.
type Profile struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Phone      string `json:"phone"`
}

var textPolicy = bluemonday.StrictPolicy()

// sanitize strips markup and surrounding whitespace from free-text input.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func (p Profile) normalized() Profile {
	return Profile{
		Name:       sanitize(p.Name),
		Email:      strings.ToLower(sanitize(p.Email)),
		Department: sanitize(p.Department),
		Phone:      sanitize(p.Phone),
	}
}

func (p Profile) missingFields() []string {
	var missing []string
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if p.Email == "" {
		missing = append(missing, "email")
	}
	if p.Department == "" {
		missing = append(missing, "department")
	}
	if p.Phone == "" {
		missing = append(missing, "phone")
	}
	return missing
}
