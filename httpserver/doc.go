/*
Package httpserver exposes a multidoc.Service over HTTP.

The server is the single writer for the stores it serves: all updates to a
store pass through one multidoc.Service, which serializes them.

# API Endpoints

	PUT  /api/v1/stores/{store}/documents           create or update a partition's document
	POST /api/v1/stores/{store}/documents/decrypt   reconstruct a partition's document
	GET  /api/v1/stores/{store}                     public store metadata

Write and decrypt requests carry a JSON body. Binary fields are base64:

	{"partition_key": "<base64>", "password": "...", "document": "<base64>"}

Instead of partition_key a request may name a key with key_name when the
server was started with a keyring.

# Errors

Credential failures of any kind (unknown partition, wrong password, missing
shares) all return 403 with the same body, so a caller cannot probe which
partitions exist. A missing store returns 404, a share collision 409,
malformed input 400 and a failed commit 500. Store names starting with "_"
are reserved for internal blobs such as the keyring and return 400.

# Health and diagnostics

  - /livez: liveness
  - /readyz: readiness, failing while draining or while storage is unreachable
  - /drain, /undrain: toggle readiness for load balancer draining
  - /debug/pprof: enabled with EnablePprof
*/
package httpserver
