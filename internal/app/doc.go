// Package app composes the token economy into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Entity types and domain errors
//	│   ├── user/
//	│   ├── card/
//	│   └── ledger/
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go
//	│   ├── kv/             # Typed in-memory key-value primitives
//	│   ├── memory/         # In-memory stores built on kv
//	│   └── postgres/       # PostgreSQL stores
//	├── services/           # Ledger, cards, distribution, interactions, accounts, audit
//	├── events/             # Committed-transaction fan-out
//	├── httpapi/            # REST and websocket surface
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/appserver/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► services/interactions ──► services/{ledger,cards,distribution,accounts}
//	      │                                        │
//	      │                                        ▼
//	      └──────────────────────────────► storage/{memory,postgres}
//
// Exactly one Application is built per process. It owns one ledger, one
// card repository, one distribution engine and one coordinator, and hands
// the same instances to every caller.
package app
