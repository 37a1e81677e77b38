package descriptor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// SQL Quoting
// =============================================================================

// Credential values go through explicit quoting, never raw interpolation.
// An identifier that fails the allow-list is rejected outright rather than
// escaped, since role and database names feed shell-adjacent tooling too.

var ErrInvalidIdentifier = errors.New("invalid SQL identifier")

var sqlIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// QuoteIdentifier validates and double-quotes a SQL identifier.
func QuoteIdentifier(name string) (string, error) {
	if !sqlIdentifierRegex.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return `"` + name + `"`, nil
}

// QuoteLiteral single-quotes a SQL string literal, doubling embedded
// quotes and refusing characters that standard_conforming_strings cannot
// neutralize.
func QuoteLiteral(value string) (string, error) {
	if strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("%w: literal contains NUL", ErrInvalidIdentifier)
	}
	escaped := strings.ReplaceAll(value, `'`, `''`)
	escaped = strings.ReplaceAll(escaped, `\`, `\\`)
	if strings.Contains(escaped, `\\`) {
		// Backslashes force the E'' form so the server treats them literally.
		return `E'` + escaped + `'`, nil
	}
	return `'` + escaped + `'`, nil
}

// =============================================================================
// Bootstrap Script
// =============================================================================

// dollarQuoteTag picks a delimiter absent from every rendered literal.
// PostgreSQL ends a dollar-quoted body at the first occurrence of its
// tag, even inside a nested single-quoted string.
func dollarQuoteTag(literals ...string) string {
	tag := "stackpilot"
	for {
		delim := "$" + tag + "$"
		clash := false
		for _, lit := range literals {
			if strings.Contains(lit, delim) {
				clash = true
				break
			}
		}
		if !clash {
			return delim
		}
		tag += "_x"
	}
}

// RenderInitScript renders the database bootstrap script. The script is
// safe to re-run: role and database creation both check existence first.
func RenderInitScript(dbName, user, password string) (string, error) {
	roleIdent, err := QuoteIdentifier(user)
	if err != nil {
		return "", fmt.Errorf("database user: %w", err)
	}
	dbIdent, err := QuoteIdentifier(dbName)
	if err != nil {
		return "", fmt.Errorf("database name: %w", err)
	}
	roleLit, err := QuoteLiteral(user)
	if err != nil {
		return "", fmt.Errorf("database user: %w", err)
	}
	dbLit, err := QuoteLiteral(dbName)
	if err != nil {
		return "", fmt.Errorf("database name: %w", err)
	}
	passwordLit, err := QuoteLiteral(password)
	if err != nil {
		return "", fmt.Errorf("database password: %w", err)
	}

	delim := dollarQuoteTag(roleLit, passwordLit)

	var b strings.Builder
	b.WriteString("-- stackpilot database bootstrap. Safe to re-run.\n")
	b.WriteString("DO " + delim + "\n")
	b.WriteString("BEGIN\n")
	fmt.Fprintf(&b, "    IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = %s) THEN\n", roleLit)
	fmt.Fprintf(&b, "        CREATE ROLE %s LOGIN PASSWORD %s;\n", roleIdent, passwordLit)
	b.WriteString("    ELSE\n")
	fmt.Fprintf(&b, "        ALTER ROLE %s WITH LOGIN PASSWORD %s;\n", roleIdent, passwordLit)
	b.WriteString("    END IF;\n")
	b.WriteString("END\n")
	b.WriteString(delim + ";\n")
	b.WriteString("\n")
	// CREATE DATABASE cannot run inside a DO block; \gexec emits it only
	// when the database is absent.
	fmt.Fprintf(&b, "SELECT 'CREATE DATABASE %s OWNER %s'\n",
		strings.Trim(dbIdent, `"`), strings.Trim(roleIdent, `"`))
	fmt.Fprintf(&b, "WHERE NOT EXISTS (SELECT FROM pg_database WHERE datname = %s)\\gexec\n", dbLit)
	b.WriteString("\n")
	fmt.Fprintf(&b, "GRANT ALL PRIVILEGES ON DATABASE %s TO %s;\n", dbIdent, roleIdent)

	return b.String(), nil
}
