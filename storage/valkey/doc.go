// Package valkey provides a Valkey-backed implementation of all storage
// interfaces for multi-instance deployments.
//
// Records are stored as JSON values under a configurable key prefix:
//
//	{prefix}client:{uuid}     registered client, keyed by internal UUID
//	{prefix}clientid:{id}     protocol client ID -> UUID index
//	{prefix}scope:{name}      admin-defined scope
//	{prefix}code:{code}       pending authorization code (TTL-bound)
//	{prefix}spent:{code}      tombstone of a consumed code (TTL-bound)
//	{prefix}token:{token}     access token (no TTL; revocation only)
//	{prefix}creds:client:{id} set of credentials owned by a client
//	{prefix}creds:user:{uuid} set of credentials belonging to a user
//
// Authorization codes rely on key TTLs for expiry and on a Lua script for
// the single-use guarantee: the script renames the code key to its spent
// tombstone in one atomic step, so racing exchanges of the same code see
// exactly one success. The tombstone inherits the original TTL, which keeps
// the reuse-detection window aligned with the code's lifetime.
//
// Usage:
//
//	store, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package valkey
