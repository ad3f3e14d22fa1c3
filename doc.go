// Package gridstore is a cached object store for electrical network
// topologies.
//
// # Overview
//
// A network is a tree of records: substations hold voltage levels, voltage
// levels hold switches, busbar sections, loads, generators, shunt
// compensators and dangling lines, and lines join two voltage levels. Every
// record travels as a resource envelope:
//
//	{
//	  "id": "baz",
//	  "type": "VOLTAGE_LEVEL",
//	  "attributes": {"substationId": "bar", "nominalV": 400, "topologyKind": "NODE_BREAKER"},
//	  "extensions": {}
//	}
//
// The authoritative copy lives in a backing store. Each process keeps one
// object index per network in front of it: a read-through, write-through
// cache that fetches records on first access, remembers which child lists
// are complete, and keeps those lists consistent when records are created,
// updated, moved between containers or removed.
//
// # Architecture
//
//	┌─────────────────┐       ┌─────────────────┐
//	│  REST / WS API  │       │  CLI (cobra)    │
//	│  (Echo)         │       │  import, export │
//	└────────┬────────┘       └────────┬────────┘
//	         │                         │
//	┌────────▼─────────────────────────▼┐
//	│  Object index (one per network)   │
//	│  typed adapters in internal/grid  │
//	└────────┬──────────────────────────┘
//	         │
//	┌────────▼────────┐
//	│  Backing store  │
//	│  memory, CouchDB│
//	│  SQLite, Postgre│
//	└─────────────────┘
//
// # Usage
//
// Start the API server:
//
//	gridstore server --config configs/config.yaml
//
// Import a YAML dump and scan it:
//
//	gridstore import --network 7928181c-7977-4592-ba19-88027e4254e4 --file dump.yaml
//	gridstore integrity --network 7928181c-7977-4592-ba19-88027e4254e4
//
// Dumps may also live in S3 or MinIO (see the s3 configuration section):
//
//	gridstore export --network 7928181c-7977-4592-ba19-88027e4254e4 -o s3://grid-dumps/case.yaml
//	gridstore import --file s3://grid-dumps/case.yaml
//
// Print the effective configuration with secrets masked, or write a default one:
//
//	gridstore config show
//	gridstore config init --output configs/config.yaml
//
// Go programs talk to the API through evalgo.org/gridstore/pkg/client, whose
// errors match the models sentinels with errors.Is.
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (config.yaml, configs/config.yaml)
//   - Environment variables (GS_ prefix, e.g. GS_STORE_DRIVER=sqlite)
//   - .env file
//
// # API Endpoints
//
// Networks:
//   - GET    /api/v1/networks                      - List networks (paginated)
//   - POST   /api/v1/networks                      - Create network
//   - GET    /api/v1/networks/:network             - Get network
//   - DELETE /api/v1/networks/:network             - Delete network and its records
//   - POST   /api/v1/networks/:network/invalidate  - Drop the cached records
//   - GET    /api/v1/networks/:network/integrity   - Scan for dangling references
//
// Records:
//   - GET    /api/v1/networks/:network/:kind             - List (?container=ID)
//   - POST   /api/v1/networks/:network/:kind             - Create one or a batch
//   - PUT    /api/v1/networks/:network/:kind             - Partial update of a batch
//   - GET    /api/v1/networks/:network/:kind/:id         - Get
//   - PUT    /api/v1/networks/:network/:kind/:id         - Partial update
//   - DELETE /api/v1/networks/:network/:kind/:id         - Remove
//   - GET    /api/v1/networks/:network/:kind/:id/:child  - Children of a container
//   - GET|PUT|DELETE /api/v1/networks/:network/:kind/:id/extensions/:name
//
// Other:
//   - POST /api/v1/validate  - Validate an envelope without storing it
//   - GET  /api/v1/version   - Build information and served collections
//   - GET  /metrics          - Prometheus metrics
//
// WebSocket:
//   - GET /api/v1/ws        - Change feed, one JSON message per index event
//     (?network=UUID&kinds=substations,loads to filter)
//   - GET /api/v1/ws/stats  - WebSocket statistics
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o gridstore ./cmd/gridstore
package gridstore
