package descriptor

import (
	"fmt"
	"strings"

	"github.com/stackpilot/stackpilot/internal/core/config"
)

// =============================================================================
// Environment File
// =============================================================================

// RenderEnvFile renders the .env file the compose CLI picks up next to the
// descriptor. Values containing whitespace or quotes are double-quoted.
func RenderEnvFile(cfg config.DeploymentConfig) string {
	env := map[string]string{
		"STACK_PROJECT":     cfg.ProjectName,
		"POSTGRES_DB":       cfg.Database.Name,
		"POSTGRES_USER":     cfg.Database.User,
		"POSTGRES_PASSWORD": cfg.Database.Password,
		"SERVER_IMAGE":      cfg.Server.Image,
		"WEB_IMAGE":         cfg.Web.Image,
		"PROXY_HTTP_PORT":   fmt.Sprintf("%d", cfg.Proxy.HTTPPort),
		"PROXY_HTTPS_PORT":  fmt.Sprintf("%d", cfg.Proxy.HTTPSPort),
	}

	var b strings.Builder
	for _, entry := range sortedEnv(env) {
		key, value, _ := strings.Cut(entry, "=")
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quoteEnvValue(value))
		b.WriteByte('\n')
	}
	return b.String()
}

func quoteEnvValue(value string) string {
	if strings.ContainsAny(value, " \t\"'#") {
		return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
	}
	return value
}

// =============================================================================
// Reverse Proxy Config
// =============================================================================

// CertFileName and KeyFileName are the TLS material filenames inside the
// deploy dir's certs/ subdirectory.
const (
	CertFileName = "stackpilot.crt"
	KeyFileName  = "stackpilot.key"
)

// RenderProxyConfig renders the nginx routing config. API traffic routes
// to the server service, everything else to the web service; port 80
// redirects to TLS.
func RenderProxyConfig(cfg config.DeploymentConfig) string {
	var b strings.Builder

	b.WriteString("# Generated by stackpilot. Do not edit - regenerated on every deploy.\n\n")

	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n")
	b.WriteString("    server_name _;\n")
	b.WriteString("    return 301 https://$host$request_uri;\n")
	b.WriteString("}\n\n")

	b.WriteString("server {\n")
	b.WriteString("    listen 443 ssl;\n")
	b.WriteString("    server_name _;\n\n")
	fmt.Fprintf(&b, "    ssl_certificate     %s/%s;\n", containerCertPath, CertFileName)
	fmt.Fprintf(&b, "    ssl_certificate_key %s/%s;\n\n", containerCertPath, KeyFileName)

	b.WriteString("    location /api/ {\n")
	fmt.Fprintf(&b, "        proxy_pass http://server:%d;\n", cfg.Server.Port)
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("        proxy_set_header X-Forwarded-Proto https;\n")
	b.WriteString("    }\n\n")

	b.WriteString("    location / {\n")
	fmt.Fprintf(&b, "        proxy_pass http://web:%d;\n", cfg.Web.Port)
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")

	return b.String()
}
