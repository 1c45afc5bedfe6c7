package value

import (
	lua "github.com/yuin/gopher-lua"
)

// ToHost converts a Lua value. Booleans are checked first, then numbers,
// then strings; every other Lua type maps to Absent. Lua strings are not
// coerced to numbers.
func ToHost(lv lua.LValue) Value {
	switch x := lv.(type) {
	case lua.LBool:
		return Bool(bool(x))
	case lua.LNumber:
		return Number(float64(x))
	case lua.LString:
		return Text(string(x))
	default:
		return Absent()
	}
}

// ToScript converts v into a Lua value. Absent becomes nil.
func ToScript(v Value) lua.LValue {
	switch v.kind {
	case KindBoolean:
		return lua.LBool(v.b)
	case KindNumber:
		return lua.LNumber(v.n)
	case KindText:
		return lua.LString(v.s)
	default:
		return lua.LNil
	}
}
