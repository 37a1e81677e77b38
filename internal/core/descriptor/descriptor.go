// Package descriptor renders deployment artifacts from a DeploymentConfig.
// Everything here is pure text generation - the artifacts writer owns the
// filesystem. Rendering is deterministic for a fixed config: list fields
// are sorted and the service set is fixed, so regenerating with the same
// config yields byte-identical output.
package descriptor

import (
	"fmt"
	"sort"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/internal/core/config"
)

// =============================================================================
// Descriptor Document
// =============================================================================

// Paths inside containers. The proxy mounts certificates read-only from
// the deploy dir; postgres mounts the bootstrap script into its init dir.
const (
	containerCertPath   = "/etc/stackpilot/certs"
	containerProxyConf  = "/etc/nginx/conf.d/stackpilot.conf"
	containerInitScript = "/docker-entrypoint-initdb.d/10-stackpilot-init.sql"
)

type healthcheckDoc struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

type serviceDoc struct {
	Image       string          `yaml:"image"`
	Restart     string          `yaml:"restart"`
	Environment []string        `yaml:"environment,omitempty"`
	Ports       []string        `yaml:"ports,omitempty"`
	Volumes     []string        `yaml:"volumes,omitempty"`
	Networks    []string        `yaml:"networks"`
	DependsOn   []string        `yaml:"depends_on,omitempty"`
	Healthcheck *healthcheckDoc `yaml:"healthcheck,omitempty"`
}

// servicesDoc keys the fixed required service set. Struct fields (not a
// map) keep the rendered order stable.
type servicesDoc struct {
	Postgres serviceDoc `yaml:"postgres"`
	Server   serviceDoc `yaml:"server"`
	Web      serviceDoc `yaml:"web"`
	Proxy    serviceDoc `yaml:"proxy"`
}

type networkDoc struct {
	Driver string `yaml:"driver"`
}

type volumesDoc struct {
	PGData struct{} `yaml:"pgdata"`
}

type descriptorDoc struct {
	Services servicesDoc           `yaml:"services"`
	Networks map[string]networkDoc `yaml:"networks"`
	Volumes  volumesDoc            `yaml:"volumes"`
}

// =============================================================================
// Rendering
// =============================================================================

// RenderDescriptor renders the deployment descriptor YAML for a config.
// The descriptor declares exactly the required service set with their
// dependency edges, restart policy, environment, volumes, network
// membership and health checks.
func RenderDescriptor(cfg config.DeploymentConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	doc := descriptorDoc{
		Networks: map[string]networkDoc{
			cfg.Network: {Driver: "bridge"},
		},
	}

	networks := []string{cfg.Network}

	doc.Services.Postgres = serviceDoc{
		Image:   cfg.Database.Image,
		Restart: "unless-stopped",
		Environment: sortedEnv(map[string]string{
			"POSTGRES_DB":       cfg.Database.Name,
			"POSTGRES_USER":     cfg.Database.User,
			"POSTGRES_PASSWORD": cfg.Database.Password,
		}),
		Volumes: []string{
			"pgdata:/var/lib/postgresql/data",
			"./db-init.sql:" + containerInitScript + ":ro",
		},
		Networks: networks,
		Healthcheck: &healthcheckDoc{
			Test: []string{"CMD-SHELL",
				fmt.Sprintf("pg_isready -U %s -d %s", cfg.Database.User, cfg.Database.Name)},
			Interval:    "10s",
			Timeout:     "5s",
			Retries:     5,
			StartPeriod: "10s",
		},
	}

	doc.Services.Server = serviceDoc{
		Image:   cfg.Server.Image,
		Restart: "unless-stopped",
		Environment: sortedEnv(map[string]string{
			"DATABASE_HOST":     "postgres",
			"DATABASE_PORT":     fmt.Sprintf("%d", cfg.Database.Port),
			"DATABASE_NAME":     cfg.Database.Name,
			"DATABASE_USER":     cfg.Database.User,
			"DATABASE_PASSWORD": cfg.Database.Password,
			"LISTEN_PORT":       fmt.Sprintf("%d", cfg.Server.Port),
		}),
		Networks:  networks,
		DependsOn: []string{"postgres"},
		Healthcheck: &healthcheckDoc{
			Test: []string{"CMD-SHELL",
				fmt.Sprintf("wget -q -O /dev/null http://localhost:%d/healthz || exit 1", cfg.Server.Port)},
			Interval: "15s",
			Timeout:  "5s",
			Retries:  3,
		},
	}

	doc.Services.Web = serviceDoc{
		Image:   cfg.Web.Image,
		Restart: "unless-stopped",
		Environment: sortedEnv(map[string]string{
			"SERVER_URL":  fmt.Sprintf("http://server:%d", cfg.Server.Port),
			"LISTEN_PORT": fmt.Sprintf("%d", cfg.Web.Port),
		}),
		Networks:  networks,
		DependsOn: []string{"server"},
		Healthcheck: &healthcheckDoc{
			Test: []string{"CMD-SHELL",
				fmt.Sprintf("wget -q -O /dev/null http://localhost:%d/ || exit 1", cfg.Web.Port)},
			Interval: "15s",
			Timeout:  "5s",
			Retries:  3,
		},
	}

	doc.Services.Proxy = serviceDoc{
		Image:   cfg.Proxy.Image,
		Restart: "unless-stopped",
		Ports: []string{
			fmt.Sprintf("%d:80", cfg.Proxy.HTTPPort),
			fmt.Sprintf("%d:443", cfg.Proxy.HTTPSPort),
		},
		Volumes: []string{
			"./proxy.conf:" + containerProxyConf + ":ro",
			"./certs:" + containerCertPath + ":ro",
		},
		Networks:  networks,
		DependsOn: []string{"server", "web"},
		Healthcheck: &healthcheckDoc{
			Test:     []string{"CMD-SHELL", "nginx -t || exit 1"},
			Interval: "30s",
			Timeout:  "5s",
			Retries:  3,
		},
	}

	if err := validatePortSpecs(doc.Services.Proxy.Ports); err != nil {
		return "", err
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}
	return string(out), nil
}

// validatePortSpecs runs published port strings through the engine's own
// port-spec parser so malformed mappings fail at generation time.
func validatePortSpecs(specs []string) error {
	for _, spec := range specs {
		if _, err := nat.ParsePortSpec(spec); err != nil {
			return fmt.Errorf("invalid port spec %q: %w", spec, err)
		}
	}
	return nil
}

// sortedEnv renders an environment map as sorted KEY=value entries.
func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
