/*
Package storage implements the Storage capability for device and site
records using BoltDB.

The connectivity core treats storage as an external collaborator: it
reads device records through the registry facade (pkg/registry) and
never writes telemetry here. Writes happen at startup (fleet manifest
seeding) and from operator tooling.

# Layout

	devices bucket: device key → JSON-encoded types.Device
	sites bucket:   big-endian site id → JSON-encoded types.Site
	meta bucket:    reserved for sequence counters

Numeric device ids are assigned from the bucket sequence on create;
the stable string key is the primary lookup handle.

# Usage

	store, err := storage.NewBoltStore("/var/lib/voltgrid")
	if err != nil { ... }
	defer store.Close()

	err = store.Seed(fleet.Sites, fleet.Devices) // idempotent

# See Also

  - pkg/registry for the cached read facade the core uses
  - BoltDB: https://github.com/etcd-io/bbolt
*/
package storage
