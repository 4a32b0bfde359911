// Package vectorstore gives tenant records a durable vector identity.
//
// Three layers live here:
//
//   - Index is the narrow contract a similarity backend implements
//     (Qdrant over gRPC in production, chromem-go in-process for tests).
//   - CollectionManager owns the lifecycle of one collection per tenant
//     namespace with a fixed dimension and metric.
//   - Adapter maps stable record identifiers onto numeric point IDs,
//     performs threshold search and applies the fallback identity policy
//     when embedding or the store fails.
//
// Payloads are validated once at this boundary (see Payload); callers above
// the adapter never see raw index maps.
package vectorstore
