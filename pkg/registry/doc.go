/*
Package registry is the Device Registry facade: a cached, read-only
lookup from device key to site, type and connection config over the
Storage capability.

The push gateway uses it to resolve a message's device to the site a
client subscribed to; the composition root uses it when building
adapters. Records are cached read-through for five minutes
(patrickmn/go-cache); Invalidate drops a record after an external
update.
*/
package registry
