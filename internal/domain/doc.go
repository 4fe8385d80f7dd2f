// Package domain holds the core types shared across the automation engine:
// raw events, CRM entities, rules, sequences and the audit log. It has no
// dependencies on storage or transport packages.
package domain
