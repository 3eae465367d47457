/*
Package manager owns the adapter table.

One adapter session exists per device key. AddDevice with a key that
already has an adapter replaces it, shutting the old session down
fully before the new one is built. Shutdown fans out to every adapter
in parallel and clears the table; individual failures never halt the
sweep.

Ownership is one-directional: the manager owns sessions, sessions
publish on the bus and never reference the manager. Development mode
sets AutoConnect so freshly added devices connect and start scanning
on their own.
*/
package manager
