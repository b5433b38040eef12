package structure

import "fmt"

// InvariantError reports a structural invariant the builder expects never to
// break: today, only "both successors of a conditional remain reachable
// inside the current loop" (get_ast_ifgoto's die() in the source this
// package is grounded on — there is no legal ifgoto rendering for such a
// jump, since inverting the condition can't make both sides loop-internal).
type InvariantError struct {
	Addr Address
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("structure: invariant violated at block %d: %s", e.Addr, e.Msg)
}
