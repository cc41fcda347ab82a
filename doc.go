// Package ffibridge is the call boundary between a Go core and foreign
// callers.
//
// Foreign code never touches Go values directly. Arguments arrive as a byte
// buffer in a fixed big-endian wire format, the core lifts them into Go
// values, runs the bound implementation and lowers the result into a fresh
// buffer. Core-owned objects cross the boundary as opaque handles.
//
// # Architecture Overview
//
//	ffibridge/
//	├── buffer/          Owned byte buffers, readers and writers
//	├── codec/           Lowering and lifting, typed and schema-driven
//	├── rangeguard/      Exact integer narrowing of foreign numbers
//	├── handle/          Object handle registry and concurrency classes
//	├── dispatch/        Name to operation table, statuses, callbacks
//	├── schema/          Interface definitions consumed by the codec
//	├── errors/          Structured error types for debugging
//	├── metrics/         Prometheus collectors for calls and handles
//	├── config/          File and environment configuration, hot reload
//	├── bridge/wasmhost  WebAssembly guests calling the table
//	├── bridge/httpapi   HTTP transport for the table
//	└── examples/        A complete core bound to a schema
//
// # Quick Start
//
// Build a table from a schema and bindings, then call it:
//
//	table, err := dispatch.NewTable(s, dispatch.Bindings{
//	    Functions: map[string]dispatch.Impl{
//	        "add": dispatch.Func2(func(_ context.Context, a, b uint32) (uint32, error) {
//	            return a + b, nil
//	        }),
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer table.Registry().Close()
//
//	w := buffer.NewWriter()
//	w.WriteU32(2)
//	w.WriteU32(3)
//	out, status, err := table.Call(ctx, "add", w.Finish())
//
// out holds the lowered result when status is dispatch.StatusOK, the lowered
// declared error when it is dispatch.StatusError, and a message string when
// it is dispatch.StatusUnexpected. The caller frees it.
package ffibridge
