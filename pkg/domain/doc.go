/*
Package domain contains the core domain models for the Trestle bridge.

It defines the value shapes exchanged between the scripting runtime and the
host object model, the transaction records kept by the coordinator, parameter
and element descriptors, the shared error taxonomy and statistics snapshots.
This package is kept pure and free of external collaborators, following
Hexagonal Architecture principles.

# Key Entities

  - Value: The closed tagged variant carried across the bridge (nil, bool,
    int, float, string, list, ordered map, host handle).
  - Point / Transform / Color / BoundingBox: Well-known host model types.
  - ParameterDescriptor / ElementDescriptor: Cached host type shapes.
  - TxnInfo: Diagnostic record of one transaction's lifecycle.
  - Config: The single configuration value supplied at construction.
*/
package domain
