package wasmhost

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

const (
	// ModuleName is the import module guests link against.
	ModuleName = "ffi"

	AllocateExport = "allocate"
	CallbackExport = "ffi_callback"
)

// Config holds configuration for host creation.
type Config struct {
	// MemoryLimitPages sets the maximum guest memory in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Host owns a wazero runtime whose "ffi" module routes guest calls into a
// dispatch table.
type Host struct {
	runtime wazero.Runtime
	table   *dispatch.Table
}

// New creates the runtime and instantiates the host module.
func New(ctx context.Context, table *dispatch.Table, cfg *Config) (*Host, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	h := &Host{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		table:   table,
	}

	i32, i64 := api.ValueTypeI32, api.ValueTypeI64
	builder := h.runtime.NewHostModuleBuilder(ModuleName)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.call), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i64}).
		Export("call")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.release), []api.ValueType{i64}, []api.ValueType{i32}).
		Export("release")

	if _, err := builder.Instantiate(ctx); err != nil {
		_ = h.runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseBridge, errors.KindUnsupported, err, "instantiate host module")
	}
	return h, nil
}

// Close releases the runtime and every guest loaded into it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Runtime exposes the underlying wazero runtime.
func (h *Host) Runtime() wazero.Runtime {
	return h.runtime
}

// Guest is an instantiated guest module.
type Guest struct {
	module api.Module
	host   *Host
}

// Load compiles and instantiates a guest. The guest must export "memory"
// and "allocate". If it also exports "ffi_callback", it becomes the
// table's foreign callback entry point.
func (h *Host) Load(ctx context.Context, name string, wasm []byte) (*Guest, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBridge, errors.KindInvalidInput, err, "compile guest")
	}

	mod, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBridge, errors.KindInvalidInput, err, "instantiate guest")
	}
	if mod.Memory() == nil || mod.ExportedFunction(AllocateExport) == nil {
		_ = mod.Close(ctx)
		return nil, errors.InvalidInput(errors.PhaseBridge, "guest must export memory and "+AllocateExport)
	}

	g := &Guest{module: mod, host: h}
	if mod.ExportedFunction(CallbackExport) != nil {
		h.table.SetForeignCallback(g.foreignCallback(ctx))
		Logger().Debug("guest implements callbacks", zap.String("guest", name))
	}
	Logger().Info("guest loaded", zap.String("guest", name))
	return g, nil
}

// Module returns the guest instance.
func (g *Guest) Module() api.Module {
	return g.module
}

// Close closes the guest instance.
func (g *Guest) Close(ctx context.Context) error {
	return g.module.Close(ctx)
}

// call handles ffi.call from a guest.
func (h *Host) call(ctx context.Context, mod api.Module, stack []uint64) {
	nameBytes, err := readGuest(mod, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if err != nil {
		panic(err)
	}
	args, err := readGuest(mod, api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
	if err != nil {
		panic(err)
	}
	name := string(nameBytes)

	out, status, callErr := h.table.Call(ctx, name, buffer.Copy(args))

	var payload []byte
	if status == dispatch.StatusInternal {
		payload = []byte(callErr.Error())
	} else {
		payload, err = out.Bytes()
		if err != nil {
			panic(err)
		}
	}

	packed, err := writeFrame(ctx, mod, status, payload)
	if out.Live() {
		_ = out.Free()
	}
	if err != nil {
		panic(err)
	}
	stack[0] = packed
}

// release handles ffi.release: 0 on success, 1 for an unknown handle.
func (h *Host) release(_ context.Context, _ api.Module, stack []uint64) {
	hd := handle.Handle(stack[0])
	if err := h.table.Registry().Release(hd); err != nil {
		Logger().Warn("guest released unknown handle", zap.Uint64("handle", uint64(hd)))
		stack[0] = 1
		return
	}
	stack[0] = 0
}

func readGuest(mod api.Module, ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseBridge, nil, int(length), int(mod.Memory().Size())-int(ptr))
	}
	return data, nil
}

// writeFrame copies [status][payload] into memory obtained from the guest's
// allocator and returns ptr<<32 | len.
func writeFrame(ctx context.Context, mod api.Module, status dispatch.Status, payload []byte) (uint64, error) {
	size := uint32(len(payload) + 1)
	res, err := mod.ExportedFunction(AllocateExport).Call(ctx, uint64(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseBridge, errors.KindInvalidInput, err, "guest allocate")
	}
	ptr := api.DecodeU32(res[0])

	mem := mod.Memory()
	if !mem.WriteByte(ptr, byte(status)) || !mem.Write(ptr+1, payload) {
		return 0, errors.OutOfBounds(errors.PhaseBridge, nil, int(size), int(mem.Size())-int(ptr))
	}
	return uint64(ptr)<<32 | uint64(size), nil
}

// readFrame reads a frame returned by the guest.
func readFrame(mod api.Module, packed uint64) (dispatch.Status, []byte, error) {
	ptr, size := uint32(packed>>32), uint32(packed)
	if size == 0 {
		return dispatch.StatusInternal, nil, errors.InvalidInput(errors.PhaseBridge, "empty response frame")
	}
	frame, err := readGuest(mod, ptr, size)
	if err != nil {
		return dispatch.StatusInternal, nil, err
	}
	return dispatch.Status(frame[0]), frame[1:], nil
}

// foreignCallback routes core calls on callback proxies into the guest.
func (g *Guest) foreignCallback(ctx context.Context) dispatch.ForeignCallback {
	return func(h uint64, method uint32, args *buffer.Buffer) (*buffer.Buffer, dispatch.Status, error) {
		defer func() {
			if args.Live() {
				_ = args.Free()
			}
		}()
		data, err := args.Bytes()
		if err != nil {
			return nil, dispatch.StatusInternal, err
		}

		mod := g.module
		var ptr uint32
		if len(data) > 0 {
			res, err := mod.ExportedFunction(AllocateExport).Call(ctx, uint64(len(data)))
			if err != nil {
				return nil, dispatch.StatusInternal, errors.Wrap(errors.PhaseBridge, errors.KindInvalidInput, err, "guest allocate")
			}
			ptr = api.DecodeU32(res[0])
			if !mod.Memory().Write(ptr, data) {
				return nil, dispatch.StatusInternal, errors.OutOfBounds(errors.PhaseBridge, nil, len(data), int(mod.Memory().Size())-int(ptr))
			}
		}

		res, err := mod.ExportedFunction(CallbackExport).Call(ctx, h, uint64(method), uint64(ptr), uint64(len(data)))
		if err != nil {
			return nil, dispatch.StatusInternal, errors.Wrap(errors.PhaseBridge, errors.KindInvalidInput, err,
				fmt.Sprintf("guest callback %d/%d", h, method))
		}
		status, payload, err := readFrame(mod, res[0])
		if err != nil {
			return nil, dispatch.StatusInternal, err
		}
		if status == dispatch.StatusInternal {
			return nil, status, errors.InvalidInput(errors.PhaseBridge, string(payload))
		}
		return buffer.Copy(payload), status, nil
	}
}
