package model

import "time"

// Identity is the canonical person record merged across contact points.
// Emails and cookies are union-only: merges add entries, never remove them.
// Interests keep first-seen casing with newest submissions ordered first.
type Identity struct {
	ID           string         `json:"user_id"`
	Emails       []string       `json:"emails"`
	Cookies      []string       `json:"cookies"`
	Interests    []string       `json:"interests"`
	Cohorts      []string       `json:"cohorts"`
	Demographics *Demographics  `json:"demographics,omitempty"`
	Location     *Location      `json:"location,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}

// HasEmail reports whether the identity already owns the given email.
func (i *Identity) HasEmail(email string) bool {
	for _, e := range i.Emails {
		if e == email {
			return true
		}
	}
	return false
}

// HasCookie reports whether the identity already owns the given cookie.
func (i *Identity) HasCookie(cookie string) bool {
	for _, c := range i.Cookies {
		if c == cookie {
			return true
		}
	}
	return false
}

// Demographics holds optional structured traits. On merge an incoming non-nil
// value replaces the prior value wholesale; there is no field-level merge.
type Demographics struct {
	Age       *int   `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Income    string `json:"income,omitempty"`
	Education string `json:"education,omitempty"`
}

// Location holds an optional structured location, replaced wholesale on merge.
type Location struct {
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}
