// Package config contains the deployment configuration model.
// All functions are pure - validation and merging produce values, no I/O.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMissingField is returned when a required configuration field is empty.
	ErrMissingField = errors.New("required configuration field is missing")

	// ErrInvalidField is returned when a configuration field has an invalid value.
	ErrInvalidField = errors.New("configuration field is invalid")
)

// ValidationError wraps a configuration error with the field that caused it.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "must not be empty", Err: ErrMissingField}
}

func invalidField(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: ErrInvalidField}
}

// =============================================================================
// Deployment Configuration
// =============================================================================

// DatabaseConfig holds settings for the database service.
type DatabaseConfig struct {
	Image    string `json:"image" mapstructure:"image"`
	Name     string `json:"name" mapstructure:"name"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Port     int    `json:"port" mapstructure:"port"`
}

// ServiceConfig holds settings for an application service.
type ServiceConfig struct {
	Image string `json:"image" mapstructure:"image"`
	Port  int    `json:"port" mapstructure:"port"`
}

// ProxyConfig holds settings for the reverse proxy service.
type ProxyConfig struct {
	Image     string `json:"image" mapstructure:"image"`
	HTTPPort  int    `json:"http_port" mapstructure:"http_port"`
	HTTPSPort int    `json:"https_port" mapstructure:"https_port"`
}

// DeploymentConfig is the typed configuration the descriptor generator and
// the lifecycle coordinator operate on. It is mutated only through
// UpdateConfiguration on the coordinator; everyone else sees copies.
type DeploymentConfig struct {
	// ProjectName is the compose project name and container name prefix.
	ProjectName string `json:"project_name" mapstructure:"project_name"`

	// DeployDir is the root directory for generated artifacts.
	DeployDir string `json:"deploy_dir" mapstructure:"deploy_dir"`

	// DescriptorFile is the deployment descriptor filename inside DeployDir.
	DescriptorFile string `json:"descriptor_file" mapstructure:"descriptor_file"`

	// Network is the name of the bridge network all services join.
	Network string `json:"network" mapstructure:"network"`

	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Server   ServiceConfig  `json:"server" mapstructure:"server"`
	Web      ServiceConfig  `json:"web" mapstructure:"web"`
	Proxy    ProxyConfig    `json:"proxy" mapstructure:"proxy"`

	// HealthTimeout bounds the wait-for-healthy loop during deploy.
	HealthTimeout time.Duration `json:"health_timeout" mapstructure:"health_timeout"`

	// PollInterval is the per-service health poll interval during deploy.
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`

	// MonitorInterval is the continuous per-service poll interval after deploy.
	MonitorInterval time.Duration `json:"monitor_interval" mapstructure:"monitor_interval"`

	// AutoRecover enables the probe engine's remediation table.
	AutoRecover bool `json:"auto_recover" mapstructure:"auto_recover"`
}

// Default returns a deployment configuration with sensible defaults.
// Credentials and images still have to be supplied by the caller.
func Default() DeploymentConfig {
	return DeploymentConfig{
		ProjectName:     "stackpilot",
		DeployDir:       "./data/deploy",
		DescriptorFile:  "docker-compose.yml",
		Network:         "stackpilot-net",
		Database: DatabaseConfig{
			Image: "postgres:16-alpine",
			Name:  "stackpilot",
			User:  "stackpilot",
			Port:  5432,
		},
		Server: ServiceConfig{Port: 8090},
		Web:    ServiceConfig{Port: 8091},
		Proxy: ProxyConfig{
			Image:     "nginx:1.27-alpine",
			HTTPPort:  8080,
			HTTPSPort: 8443,
		},
		HealthTimeout:   300 * time.Second,
		PollInterval:    5 * time.Second,
		MonitorInterval: 30 * time.Second,
	}
}

// =============================================================================
// Validation
// =============================================================================

// projectNameRegex restricts names to what compose and the network layer accept.
var projectNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks that all required fields are present and well-formed.
// It returns the first violation found.
func (c DeploymentConfig) Validate() error {
	if c.ProjectName == "" {
		return missingField("project_name")
	}
	if !projectNameRegex.MatchString(c.ProjectName) {
		return invalidField("project_name", "must match [a-z0-9][a-z0-9_-]*")
	}
	if c.DeployDir == "" {
		return missingField("deploy_dir")
	}
	if c.DescriptorFile == "" {
		return missingField("descriptor_file")
	}
	if c.Network == "" {
		return missingField("network")
	}
	if c.Database.Image == "" {
		return missingField("database.image")
	}
	if c.Database.Name == "" {
		return missingField("database.name")
	}
	if c.Database.User == "" {
		return missingField("database.user")
	}
	if c.Database.Password == "" {
		return missingField("database.password")
	}
	if err := validatePort("database.port", c.Database.Port); err != nil {
		return err
	}
	if c.Server.Image == "" {
		return missingField("server.image")
	}
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Web.Image == "" {
		return missingField("web.image")
	}
	if err := validatePort("web.port", c.Web.Port); err != nil {
		return err
	}
	if c.Proxy.Image == "" {
		return missingField("proxy.image")
	}
	if err := validatePort("proxy.http_port", c.Proxy.HTTPPort); err != nil {
		return err
	}
	if err := validatePort("proxy.https_port", c.Proxy.HTTPSPort); err != nil {
		return err
	}
	if c.HealthTimeout <= 0 {
		return invalidField("health_timeout", "must be positive")
	}
	if c.PollInterval <= 0 {
		return invalidField("poll_interval", "must be positive")
	}
	if c.MonitorInterval <= 0 {
		return invalidField("monitor_interval", "must be positive")
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return invalidField(field, "must be in range 1-65535")
	}
	return nil
}

// =============================================================================
// Partial Merge
// =============================================================================

// Partial carries a subset of configuration fields for updateConfiguration.
// Nil pointers mean "keep the current value".
type Partial struct {
	ProjectName      *string        `json:"project_name,omitempty"`
	DeployDir        *string        `json:"deploy_dir,omitempty"`
	DescriptorFile   *string        `json:"descriptor_file,omitempty"`
	Network          *string        `json:"network,omitempty"`
	DatabaseImage    *string        `json:"database_image,omitempty"`
	DatabaseName     *string        `json:"database_name,omitempty"`
	DatabaseUser     *string        `json:"database_user,omitempty"`
	DatabasePassword *string        `json:"database_password,omitempty"`
	ServerImage      *string        `json:"server_image,omitempty"`
	WebImage         *string        `json:"web_image,omitempty"`
	ProxyImage       *string        `json:"proxy_image,omitempty"`
	HealthTimeout    *time.Duration `json:"health_timeout,omitempty"`
	MonitorInterval  *time.Duration `json:"monitor_interval,omitempty"`
	AutoRecover      *bool          `json:"auto_recover,omitempty"`
}

// Merge applies the partial on top of the receiver and returns the result.
// The receiver is not modified, so a failed deploy can keep the old value.
func (c DeploymentConfig) Merge(p Partial) DeploymentConfig {
	out := c
	if p.ProjectName != nil {
		out.ProjectName = *p.ProjectName
	}
	if p.DeployDir != nil {
		out.DeployDir = *p.DeployDir
	}
	if p.DescriptorFile != nil {
		out.DescriptorFile = *p.DescriptorFile
	}
	if p.Network != nil {
		out.Network = *p.Network
	}
	if p.DatabaseImage != nil {
		out.Database.Image = *p.DatabaseImage
	}
	if p.DatabaseName != nil {
		out.Database.Name = *p.DatabaseName
	}
	if p.DatabaseUser != nil {
		out.Database.User = *p.DatabaseUser
	}
	if p.DatabasePassword != nil {
		out.Database.Password = *p.DatabasePassword
	}
	if p.ServerImage != nil {
		out.Server.Image = *p.ServerImage
	}
	if p.WebImage != nil {
		out.Web.Image = *p.WebImage
	}
	if p.ProxyImage != nil {
		out.Proxy.Image = *p.ProxyImage
	}
	if p.HealthTimeout != nil {
		out.HealthTimeout = *p.HealthTimeout
	}
	if p.MonitorInterval != nil {
		out.MonitorInterval = *p.MonitorInterval
	}
	if p.AutoRecover != nil {
		out.AutoRecover = *p.AutoRecover
	}
	return out
}

// RequiredServices returns the service names the descriptor must declare,
// in dependency order.
func (DeploymentConfig) RequiredServices() []string {
	return []string{"postgres", "server", "web", "proxy"}
}
