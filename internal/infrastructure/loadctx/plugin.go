package loadctx

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// LuaPlugin adapts one artifact registration to the process.Plugin contract.
// All calls funnel through the owning context's mutex because a Lua state is
// single-threaded.
type LuaPlugin struct {
	ctx *Context
	reg *Registration
}

// NewPlugin wraps a captured registration.
func NewPlugin(ctx *Context, reg *Registration) *LuaPlugin {
	return &LuaPlugin{ctx: ctx, reg: reg}
}

// Metadata returns the metadata captured at registration time.
func (p *LuaPlugin) Metadata() process.Metadata {
	return p.reg.Metadata
}

// Validate invokes the artifact's validate function. Artifacts without one
// accept every input.
func (p *LuaPlugin) Validate(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.ValidationResult, error) {
	if p.reg.validate == nil {
		return process.ValidOK(), nil
	}
	ret, err := p.call(ctx, p.reg.validate, execCtx, input)
	if err != nil {
		return process.ValidationResult{}, err
	}
	return parseValidation(ret), nil
}

// Execute invokes the artifact's execute function under the caller's
// context deadline.
func (p *LuaPlugin) Execute(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
	ret, err := p.call(ctx, p.reg.execute, execCtx, input)
	if err != nil {
		return process.Result{}, err
	}
	return parseResult(ret), nil
}

// Compensate invokes the artifact's compensate function when declared.
func (p *LuaPlugin) Compensate(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
	if p.reg.compensate == nil {
		return process.Result{}, process.NewError(process.CodeUnsupported,
			fmt.Sprintf("process %q does not support compensation", p.reg.Metadata.ProcessID))
	}
	ret, err := p.call(ctx, p.reg.compensate, execCtx, input)
	if err != nil {
		return process.Result{}, err
	}
	return parseResult(ret), nil
}

// HealthCheck invokes the artifact's health function when declared.
func (p *LuaPlugin) HealthCheck(ctx context.Context) error {
	if p.reg.health == nil {
		return nil
	}
	_, err := p.call(ctx, p.reg.health, nil, nil)
	return err
}

// call runs one Lua function with (execCtx, input) arguments, serialized on
// the context mutex and bounded by the Go context.
func (p *LuaPlugin) call(ctx context.Context, fn *lua.LFunction, execCtx *process.ExecutionContext, input map[string]any) (lua.LValue, error) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()

	if p.ctx.closed {
		return nil, process.NewError(process.CodeLoadFailure,
			fmt.Sprintf("process %q was unloaded", p.reg.Metadata.ProcessID))
	}

	L := p.ctx.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	args := []lua.LValue{execCtxToLua(L, execCtx), mapToLua(L, input)}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, process.WrapError(process.CodeExecutionFailed,
			fmt.Sprintf("process %q raised an error", p.reg.Metadata.ProcessID), err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// execCtxToLua exposes the execution context to the artifact as a read-only
// snapshot table.
func execCtxToLua(L *lua.LState, execCtx *process.ExecutionContext) lua.LValue {
	if execCtx == nil {
		return lua.LNil
	}
	t := L.NewTable()
	L.SetField(t, "execution_id", lua.LString(execCtx.ExecutionID))
	L.SetField(t, "correlation_id", lua.LString(execCtx.CorrelationID))
	L.SetField(t, "tenant_id", lua.LString(execCtx.Business.TenantID))
	L.SetField(t, "user_id", lua.LString(execCtx.Business.UserID))
	L.SetField(t, "operation_id", lua.LString(execCtx.Mapping.OperationID))
	L.SetField(t, "channel", lua.LString(execCtx.Mapping.Channel))
	L.SetField(t, "attributes", toLuaValue(L, execCtx.Business.Attributes))
	return t
}

// parseResult interprets the Lua return value as a process result. A table
// with a status field is an explicit result; any other table is treated as
// the output payload of a success; nil means success with no output.
func parseResult(ret lua.LValue) process.Result {
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return process.Success(nil)
	}

	status, hasStatus := tableString(tbl, "status")
	if !hasStatus {
		output, _ := toGoValue(tbl).(map[string]any)
		return process.Success(output)
	}

	result := process.Result{Status: process.Status(status)}
	if out, ok := tbl.RawGetString("output").(*lua.LTable); ok {
		result.Output, _ = toGoValue(out).(map[string]any)
	}
	if code, ok := tableString(tbl, "error_code"); ok {
		result.ErrorCode = process.ErrorCode(code)
	}
	if msg, ok := tableString(tbl, "error_message"); ok {
		result.ErrorMessage = msg
	}
	return result
}

// parseValidation interprets the Lua return value of a validate call.
// nil or true passes; a table carries {valid=bool, errors={fielderr...}}.
func parseValidation(ret lua.LValue) process.ValidationResult {
	switch v := ret.(type) {
	case lua.LBool:
		if bool(v) {
			return process.ValidOK()
		}
		return process.Invalid()
	case *lua.LTable:
		result := process.ValidationResult{Valid: tableBool(v, "valid")}
		if errs, ok := v.RawGetString("errors").(*lua.LTable); ok {
			errs.ForEach(func(_, item lua.LValue) {
				et, ok := item.(*lua.LTable)
				if !ok {
					return
				}
				fe := process.FieldError{}
				fe.Field, _ = tableString(et, "field")
				fe.Code, _ = tableString(et, "code")
				fe.Message, _ = tableString(et, "message")
				result.Errors = append(result.Errors, fe)
			})
		}
		return result
	default:
		return process.ValidOK()
	}
}

var _ process.Plugin = (*LuaPlugin)(nil)
var _ process.HealthChecker = (*LuaPlugin)(nil)
