/*
Package trestle is a bidirectional bridge between a dynamic scripting runtime and a CAD-style host object model.

It lets scripts read and mutate host elements through cache-coordinated accessors, with every mutation wrapped in an explicit transaction and every value crossing the boundary through a frozen type-conversion registry.

# Concept

Trestle treats the host application as a port: anything that can answer element, attribute, transaction, and geometry verbs can sit behind the bridge. The bridge owns the interpreter, the conversion rules, the transaction stack, and the caches; the host owns the object model. This Hexagonal Architecture allows Trestle to drive any host: an in-process model, a plugin boundary, or a remote service.

# Key Features

  - Typed boundary: dynamic values are a closed tagged variant, converted through registered rules that freeze at startup.
  - Explicit transactions: LIFO scopes with savepoint sub-transactions, groups, and configurable failure policy.
  - Cache-coordinated access: per-attribute caches with TTL and idle eviction, fail-closed writes, memoized geometry.
  - Warm starts: element descriptors can persist to a store (Redis adapter included) between runs.

# Usage

Create a bridge over a host model, initialize it, and execute scripts:

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/trestle"
		"github.com/aretw0/trestle/pkg/domain"
	)

	func main() {
		// host is anything implementing ports.HostModel.
		host := newMyHost()

		bridge, err := trestle.New(host, domain.DefaultConfig())
		if err != nil {
			log.Fatal(err)
		}
		defer bridge.Close()

		ctx := context.Background()
		if err := bridge.Initialize(ctx); err != nil {
			log.Fatal(err)
		}

		out, err := bridge.ExecuteScript(ctx, `
			var walls = elements.all("plan", "Wall");
			parameters.set(walls[0], "Height", 3000);
			parameters.get(walls[0], "Height")
		`, nil)
		if err != nil {
			log.Fatal(err)
		}
		log.Println("height:", out)
	}
*/
package trestle
