package compose

import (
	"context"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parsing
// =============================================================================

// ParseSpec parses deployment descriptor YAML into a ParsedSpec.
// The generator round-trips every rendered descriptor through this before
// writing it, so a descriptor that does not load never reaches disk.
func ParseSpec(yamlContent string) (*ParsedSpec, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &ParsedSpec{
		Services: make([]Service, 0, len(project.Services)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		spec.Services = append(spec.Services, converted)
	}

	for name := range project.Networks {
		spec.Networks = append(spec.Networks, name)
	}
	for name := range project.Volumes {
		spec.Volumes = append(spec.Volumes, name)
	}

	if err := validateDependencies(spec.Services); err != nil {
		return nil, err
	}

	return spec, nil
}

// loadProject loads YAML through the compose-go loader.
func loadProject(yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil || dict == nil {
		return nil, newValidationError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{Content: []byte(yamlContent), Config: dict},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stackpilot-validate", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = true // generated descriptors carry literal values
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, newValidationError("", "circular dependency detected", ErrCircularDependency)
		}
		return nil, newValidationError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// convertService converts a compose-go service to the stackpilot type.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Environment: make(map[string]string),
		Restart:     svc.Restart,
	}

	if service.Image == "" {
		return Service{}, newValidationError("services."+svc.Name, "service must have an image", ErrServiceNoImage)
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			if pub, err := strconv.ParseUint(p.Published, 10, 32); err == nil {
				published = uint32(pub)
			}
		}
		if p.Target == 0 || p.Target > 65535 || published > 65535 {
			return Service{}, newValidationError(
				"services."+svc.Name+".ports", "port out of range", ErrInvalidPort)
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
		})
	}

	for _, v := range svc.Volumes {
		service.Volumes = append(service.Volumes, v.Source+":"+v.Target)
	}

	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{Test: svc.HealthCheck.Test}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
	}

	return service, nil
}

// =============================================================================
// Dependency Validation
// =============================================================================

// validateDependencies checks that every depends_on edge references a
// declared service and that no dependency cycle exists.
func validateDependencies(services []Service) error {
	declared := make(map[string]bool, len(services))
	for _, svc := range services {
		declared[svc.Name] = true
	}

	deps := make(map[string][]string, len(services))
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if !declared[dep] {
				return newValidationError(
					"services."+svc.Name+".depends_on",
					"unknown service "+strconv.Quote(dep),
					ErrUnknownDependency,
				)
			}
		}
		deps[svc.Name] = svc.DependsOn
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		onStack[node] = true
		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if onStack[dep] {
				return true
			}
		}
		onStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}
