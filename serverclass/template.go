package serverclass

import "github.com/valyala/fasttemplate"

// ExpandArgs substitutes single-brace placeholders in
// each command argument against vars, e.g. {name},
// {namespace}, {session_id}. Unknown placeholders are
// left untouched so literal braces in workload flags
// survive.
func ExpandArgs(
	args []string,
	vars map[string]interface{},
) []string {
	if len(args) == 0 || len(vars) == 0 {
		return args
	}

	expanded := make([]string, len(args))

	for i, arg := range args {
		expanded[i] = fasttemplate.ExecuteStringStd(
			arg, "{", "}", vars,
		)
	}

	return expanded
}
