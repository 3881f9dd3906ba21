/*
Package ports defines the driven ports (interfaces) for the Trestle bridge.

These interfaces decouple the bridge core from its two external
collaborators, the host object model and the embedded scripting runtime,
and from optional infrastructure such as descriptor warm-start stores.

# Key Interfaces

  - HostModel: The narrow set of verbs the bridge assumes of the host
    application (element lookup, attribute get/set, mutation scopes,
    geometry computations).
  - ScriptRuntime: The embedded interpreter contract (evaluate with
    bindings, import modules, call functions).
  - DescriptorStore: Persistence for element descriptors, used to warm
    accessor caches at startup.
*/
package ports
