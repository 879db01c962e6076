// Package app composes storage, the task engine and the business services
// into a running application. It is a wiring layer: business rules live in
// internal/app/services/ and internal/app/tasks/, persistence lives in
// internal/app/storage/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── account/        # Loyalty member accounts
//	│   ├── receipt/        # Captured receipts
//	│   └── task/           # Pipeline tasks and their status machine
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── tasks/              # Task engine: registry, dispatcher, saga workflow
//	├── services/           # Business services (accounts, receipts, pipeline)
//	├── marketplace/        # Simulated marketplace collaborators
//	├── httpapi/            # HTTP handlers, routing and middleware
//	└── metrics/            # Prometheus metrics
//
// # Dependency Direction
//
//	cmd/server/
//	      │
//	      ▼
//	internal/app/runtime/ (process assembly: config, db, cron, http server)
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      ├──► internal/app/tasks/    (background orchestration)
//	      └──► internal/app/storage/  (persistence)
package app
