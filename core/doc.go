// Package core contains the webhook domain model, error taxonomy,
// configuration and the contracts implemented by the storage and effect
// adapters. Adapter packages depend on core; core depends on none of them.
package core
