// Package buffer holds the byte containers that cross the boundary.
//
// A Buffer has a single owner. Ownership moves with Buffer.Move, which
// leaves the old value dead: any later Bytes, Reader, Move or Free on it
// fails with a moved_buffer InternalError. Writers build outbound buffers
// with big-endian fixed-width primitives; Readers consume inbound ones and
// fail with out_of_bounds rather than read past the end.
package buffer
