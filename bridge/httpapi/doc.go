// Package httpapi serves a dispatch table over HTTP.
//
// Routes:
//
//	POST   /v1/call/{operation}   raw argument buffer in, raw result out
//	POST   /v1/lower/{type}       JSON value in, encoded buffer out
//	POST   /v1/lift/{type}        encoded buffer in, {"value": ...} out
//	GET    /v1/operations         descriptors with signatures
//	GET    /v1/schema             the schema in interface-definition syntax
//	DELETE /v1/handles/{handle}   release an object handle
//	GET    /metrics               Prometheus metrics, when a gatherer is set
//
// Raw calls always answer 200 unless the call failed at the protocol
// level; the X-Ffi-Status header ("ok", "error", "unexpected") says how to
// read the body. Protocol failures answer 400 (404 for an unknown
// operation) with a JSON error body. Lowering a number outside the target
// range answers 400; any other encoding failure answers 422.
package httpapi
