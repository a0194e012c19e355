package model

// SpyProfile describes the fictional agent persona a user converses with.
// Profiles are loaded from the spy repository and drive the system prompt.
type SpyProfile struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Codename  string `yaml:"codename" json:"codename"`
	Biography string `yaml:"biography" json:"biography"`
	Specialty string `yaml:"specialty" json:"specialty"`
}

// DisplayName returns the name to show the user, falling back to the
// codename and then the id when profile fields are missing.
func (s SpyProfile) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Codename != "" {
		return s.Codename
	}
	return s.ID
}
