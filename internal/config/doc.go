/*
Package config provides configuration management for gridserver with
multi-source support.

This package implements a hierarchical configuration system that
supports YAML files, environment variables, and compiled-in defaults,
with validation before a server starts accepting requests.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (GRIDSERVER_*)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global: zone name, log level/file, service ports.

Server: listen address, concurrency limits, forwarder connection pool
size.

Resources: the statically-declared resource list consumed by
internal/registry at startup (spec §4.2).

Catalog: the bbolt database path and lock/query tuning (spec §4.5).

Network: timeouts, retry, and circuit-breaker settings shared by the
driver, catalog, and forwarder suspension points (spec §5).

Security: TLS posture for server-to-server connections (spec §4.6).

Monitoring: metrics and logging output settings.

Features: flags for functionality the spec marks optional or staged.
*/
package config
