// Package wazerosandbox implements pkg/reducer.Reducer on top of
// tetratelabs/wazero, standing in for the original Reducer's wasmi +
// sqlsync-reducer host/guest FFI: the guest module exports
// ffi_buf_allocate/ffi_buf_deallocate/ffi_buf_len plus ffi_init_reducer,
// ffi_reduce, and ffi_reactor_step; the host registers host_log,
// host_query, and host_execute under module "env". Every value crossing
// the boundary is a pointer into the guest's linear memory, whose length
// the host reads back with ffi_buf_len, to a buffer encoded with
// pkg/reducerabi.
package wazerosandbox

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/sqlsync/sqlsync/internal/errs"
	"github.com/sqlsync/sqlsync/internal/logger"
	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/reducerabi"
)

// Sandbox is a wazero-backed reducer.Reducer. Each Sandbox owns one wazero
// runtime and one instantiated guest module; it is not safe for concurrent
// use from multiple goroutines because the active transaction is threaded
// through host-function closures for the duration of one Apply call.
type Sandbox struct {
	runtime  wazero.Runtime
	module   api.Module
	memory   api.Memory
	allocate api.Function
	dealloc  api.Function
	bufLen   api.Function
	initFn   api.Function
	reduceFn api.Function
	stepFn   api.Function

	ctx context.Context
	tx  sqlengine.Tx
}

// New instantiates wasmBytes as the reducer guest program.
func New(ctx context.Context, wasmBytes []byte) (*Sandbox, error) {
	runtime := wazero.NewRuntime(ctx)

	s := &Sandbox{runtime: runtime}

	hostMod := runtime.NewHostModuleBuilder("env")
	hostMod.NewFunctionBuilder().
		WithFunc(s.hostLog).
		Export("host_log")
	hostMod.NewFunctionBuilder().
		WithFunc(s.hostQuery).
		Export("host_query")
	hostMod.NewFunctionBuilder().
		WithFunc(s.hostExecute).
		Export("host_execute")
	if _, err := hostMod.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wazerosandbox: register host module: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wazerosandbox: compile guest module: %w", err)
	}

	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wazerosandbox: instantiate guest module: %w", err)
	}
	s.module = module
	s.memory = module.Memory()
	if s.memory == nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wazerosandbox: guest module exports no memory")
	}

	for name, dst := range map[string]*api.Function{
		"ffi_buf_allocate":   &s.allocate,
		"ffi_buf_deallocate": &s.dealloc,
		"ffi_buf_len":        &s.bufLen,
		"ffi_init_reducer":   &s.initFn,
		"ffi_reduce":         &s.reduceFn,
		"ffi_reactor_step":   &s.stepFn,
	} {
		fn := module.ExportedFunction(name)
		if fn == nil {
			runtime.Close(ctx)
			return nil, fmt.Errorf("wazerosandbox: guest module missing export %q", name)
		}
		*dst = fn
	}

	if _, err := s.initFn.Call(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wazerosandbox: ffi_init_reducer: %w", err)
	}

	return s, nil
}

// Close releases the wazero runtime and every module it instantiated.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// Apply implements reducer.Reducer.
func (s *Sandbox) Apply(ctx context.Context, tx sqlengine.Tx, mutation []byte) error {
	s.ctx = ctx
	s.tx = tx
	defer func() {
		s.ctx = nil
		s.tx = nil
	}()

	ptr, err := s.writeBuf(ctx, mutation)
	if err != nil {
		return err
	}

	results, err := s.reduceFn.Call(ctx, uint64(ptr))
	if err != nil {
		return errs.Wrap(errs.CodeReducerTrap, "ffi_reduce trapped", err)
	}
	pending := uint32(results[0])

	for pending != 0 {
		batch, err := s.readBatch(ctx, pending)
		if err != nil {
			return err
		}
		resultPtr, err := s.step(ctx, batch)
		if err != nil {
			return err
		}
		pending = resultPtr
	}
	return nil
}

func (s *Sandbox) readBatch(ctx context.Context, ptr uint32) (reducerabi.RequestBatch, error) {
	buf, err := s.readBuf(ctx, ptr)
	if err != nil {
		return nil, err
	}
	var batch reducerabi.RequestBatch
	if err := batch.UnmarshalBinary(buf); err != nil {
		return nil, errs.Wrap(errs.CodeReducerProtocol, "decoding request batch", err)
	}
	return batch, nil
}

func (s *Sandbox) step(ctx context.Context, batch reducerabi.RequestBatch) (uint32, error) {
	responses := make(reducerabi.ResponseBatch, len(batch))
	for id, req := range batch {
		responses[id] = s.handle(ctx, req)
	}

	encoded, err := responses.MarshalBinary()
	if err != nil {
		return 0, errs.Wrap(errs.CodeReducerProtocol, "encoding response batch", err)
	}
	ptr, err := s.writeBuf(ctx, encoded)
	if err != nil {
		return 0, err
	}

	results, err := s.stepFn.Call(ctx, uint64(ptr))
	if err != nil {
		return 0, errs.Wrap(errs.CodeReducerTrap, "ffi_reactor_step trapped", err)
	}
	return uint32(results[0]), nil
}

func (s *Sandbox) handle(ctx context.Context, req reducerabi.Request) reducerabi.Response {
	switch req.Kind {
	case reducerabi.RequestQuery:
		result, err := s.tx.Query(ctx, req.SQL, req.Params...)
		if err != nil {
			return reducerabi.Response{Err: sqlError(err)}
		}
		rows := make([][]sqlengine.SqliteValue, len(result.Rows))
		copy(rows, result.Rows)
		return reducerabi.Response{Query: &reducerabi.QueryResponse{Columns: result.Columns, Rows: rows}}
	case reducerabi.RequestExec:
		changes, err := s.tx.Exec(ctx, req.SQL, req.Params...)
		if err != nil {
			return reducerabi.Response{Err: sqlError(err)}
		}
		return reducerabi.Response{Exec: &reducerabi.ExecResponse{Changes: changes}}
	default:
		return reducerabi.Response{Err: &reducerabi.SqliteError{Message: fmt.Sprintf("unknown request kind %d", req.Kind)}}
	}
}

func sqlError(err error) *reducerabi.SqliteError {
	return &reducerabi.SqliteError{Message: err.Error()}
}

// hostLog, hostQuery, and hostExecute are registered as env.host_log,
// env.host_query, env.host_execute: each takes a (ptr) into guest memory
// holding an encoded request and, for query/execute, returns a (ptr) to an
// encoded response.
func (s *Sandbox) hostLog(ctx context.Context, mod api.Module, ptr uint32) {
	buf, err := s.readBuf(ctx, ptr)
	if err != nil {
		return
	}
	var req reducerabi.LogRequest
	if err := req.UnmarshalBinary(buf); err != nil {
		return
	}
	logger.DebugCtx(s.ctx, "reducer log", "message", req.Message)
}

func (s *Sandbox) hostQuery(ctx context.Context, mod api.Module, ptr uint32) uint32 {
	return s.hostRequest(ctx, ptr, reducerabi.RequestQuery)
}

func (s *Sandbox) hostExecute(ctx context.Context, mod api.Module, ptr uint32) uint32 {
	return s.hostRequest(ctx, ptr, reducerabi.RequestExec)
}

func (s *Sandbox) hostRequest(ctx context.Context, ptr uint32, kind reducerabi.RequestKind) uint32 {
	buf, err := s.readBuf(ctx, ptr)
	if err != nil {
		return 0
	}
	var req reducerabi.Request
	if err := req.UnmarshalBinary(buf); err != nil {
		return 0
	}
	req.Kind = kind

	resp := s.handle(s.ctx, req)
	encoded, err := resp.MarshalBinary()
	if err != nil {
		return 0
	}
	outPtr, err := s.writeBuf(ctx, encoded)
	if err != nil {
		return 0
	}
	return outPtr
}

func (s *Sandbox) writeBuf(ctx context.Context, data []byte) (uint32, error) {
	results, err := s.allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("wazerosandbox: ffi_buf_allocate: %w", err)
	}
	ptr := uint32(results[0])
	if !s.memory.Write(ptr, data) {
		return 0, fmt.Errorf("wazerosandbox: writing %d bytes at %d out of bounds", len(data), ptr)
	}
	return ptr, nil
}

func (s *Sandbox) readBuf(ctx context.Context, ptr uint32) ([]byte, error) {
	results, err := s.bufLen.Call(ctx, uint64(ptr))
	if err != nil {
		return nil, fmt.Errorf("wazerosandbox: ffi_buf_len: %w", err)
	}
	length := uint32(results[0])
	data, ok := s.memory.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("wazerosandbox: reading %d bytes at %d out of bounds", length, ptr)
	}
	buf := append([]byte(nil), data...)
	if _, err := s.dealloc.Call(ctx, uint64(ptr)); err != nil {
		return nil, fmt.Errorf("wazerosandbox: ffi_buf_deallocate: %w", err)
	}
	return buf, nil
}
