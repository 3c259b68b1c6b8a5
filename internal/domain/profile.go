package domain

// LinkedInProfile is the structured result of parsing a profile page.
type LinkedInProfile struct {
	Name        string   `json:"name"`
	CurrentRole string   `json:"current_role"`
	Experience  []string `json:"experience,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	Summary     string   `json:"summary,omitempty"`
}

// ProfileFallback carries the values already known from team extraction,
// used to fill gaps when profile parsing comes back incomplete.
type ProfileFallback struct {
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Company string `json:"company,omitempty"`
}
