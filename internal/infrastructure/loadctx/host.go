package loadctx

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// installHost publishes the flowplane namespace into the context. Artifacts
// declare their processes by calling flowplane.register with a table; this
// is the explicit-registration replacement for marker scanning, so no
// runtime introspection of the artifact is ever needed.
func installHost(c *Context) {
	L := c.L
	ns := L.NewTable()

	L.SetField(ns, "register", L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		reg := captureRegistration(c, tbl)
		c.registrations = append(c.registrations, reg)
		return 0
	}))

	// flowplane.result{status=..., output=...} is a convenience constructor
	// plugins use to shape an execution result table.
	L.SetField(ns, "result", L.NewFunction(func(L *lua.LState) int {
		tbl := L.OptTable(1, L.NewTable())
		if tbl.RawGetString("status") == lua.LNil {
			L.SetField(tbl, "status", lua.LString(string(process.StatusSuccess)))
		}
		L.Push(tbl)
		return 1
	}))

	// flowplane.fielderr(field, code, message) builds one validation error.
	L.SetField(ns, "fielderr", L.NewFunction(func(L *lua.LState) int {
		t := L.NewTable()
		L.SetField(t, "field", lua.LString(L.CheckString(1)))
		L.SetField(t, "code", lua.LString(L.OptString(2, "INVALID")))
		L.SetField(t, "message", lua.LString(L.OptString(3, "")))
		L.Push(t)
		return 1
	}))

	L.SetGlobal("flowplane", ns)
}

// captureRegistration builds a Registration from the artifact's register
// table. The metadata value produced here is identical in shape to what the
// embedded builder produces.
func captureRegistration(c *Context, tbl *lua.LTable) *Registration {
	processID, _ := tableString(tbl, "process_id")
	version, _ := tableString(tbl, "version")

	b := process.NewMetadata(processID, version).
		Permissions(tableStrings(tbl, "permissions")...).
		Roles(tableStrings(tbl, "roles")...).
		Features(tableStrings(tbl, "features")...).
		Source(process.SourceLocalArchive, c.source)

	if category, ok := tableString(tbl, "category"); ok {
		b.Category(category)
	}
	if tableBool(tbl, "vanilla") {
		b.Vanilla()
	}
	if tableBool(tbl, "deprecated") {
		replacedBy, _ := tableString(tbl, "replaced_by")
		b.Deprecated(replacedBy)
	}

	reg := &Registration{}
	caps := []process.Capability{}
	if fn, ok := tableFunc(tbl, "execute"); ok {
		reg.execute = fn
		caps = append(caps, process.CapabilityExecute)
	}
	if fn, ok := tableFunc(tbl, "validate"); ok {
		reg.validate = fn
		caps = append(caps, process.CapabilityValidate)
	}
	if fn, ok := tableFunc(tbl, "compensate"); ok {
		reg.compensate = fn
		caps = append(caps, process.CapabilityCompensate)
	}
	if fn, ok := tableFunc(tbl, "health"); ok {
		reg.health = fn
		caps = append(caps, process.CapabilityHealth)
	}
	b.Capabilities(caps...)

	reg.Metadata = b.Build()
	return reg
}
