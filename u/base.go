package u

import (
	"fmt"
)

func fmtPanicMsg(def string, args []any) string {
	if len(args) == 0 {
		return def
	}
	s := fmt.Sprintf("%s", args[0])
	if len(args) > 1 {
		s = fmt.Sprintf(s, args[1:]...)
	}
	return s
}

// PanicIf panics if cond is true. Used for invariants that can only
// be broken by a bug, never by bad input or a corrupt file.
func PanicIf(cond bool, args ...any) {
	if !cond {
		return
	}
	panic(fmtPanicMsg("condition failed", args))
}

func PanicIfErr(err error, args ...any) {
	if err == nil {
		return
	}
	panic(fmtPanicMsg(err.Error(), args))
}
