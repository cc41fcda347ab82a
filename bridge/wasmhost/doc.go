// Package wasmhost exposes a dispatch table to WebAssembly guests running
// on wazero.
//
// The host module "ffi" provides:
//
//	call(name_ptr, name_len, args_ptr, args_len i32) -> i64
//	release(handle i64) -> i32
//
// call returns ptr<<32 | len of a response frame the host wrote into guest
// memory through the guest's "allocate" export. The frame is one status
// byte followed by the result buffer; for StatusInternal the payload is the
// error text.
//
// A guest that exports
//
//	ffi_callback(handle i64, method i32, args_ptr i32, args_len i32) -> i64
//
// implements callback interfaces. Its result is framed the same way.
package wasmhost
