package compose

// =============================================================================
// ParsedSpec - Main Output Type
// =============================================================================

// ParsedSpec is the stackpilot view of a parsed deployment descriptor,
// decoupled from compose-go types.
type ParsedSpec struct {
	Services []Service `json:"services"`
	Networks []string  `json:"networks,omitempty"`
	Volumes  []string  `json:"volumes,omitempty"`
}

// ServiceNames returns the declared service names in descriptor order.
func (s *ParsedSpec) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for _, svc := range s.Services {
		names = append(names, svc.Name)
	}
	return names
}

// Service returns the named service, if declared.
func (s *ParsedSpec) Service(name string) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// =============================================================================
// Service Types
// =============================================================================

// Service is a single declared service.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Environment map[string]string `json:"environment,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Volumes     []string          `json:"volumes,omitempty"`
	Networks    []string          `json:"networks,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Restart     string            `json:"restart,omitempty"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty"`
}

// Port is a published port mapping.
type Port struct {
	Target    uint32 `json:"target"`
	Published uint32 `json:"published,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
}

// HealthCheck is the declared container health-check command.
type HealthCheck struct {
	Test     []string `json:"test"`
	Interval string   `json:"interval,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	Retries  int      `json:"retries,omitempty"`
}
