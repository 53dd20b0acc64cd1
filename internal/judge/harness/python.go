package harness

import (
	"fmt"
	"strings"
)

const pythonDriver = `

# ---- judge harness ----
import sys as _harness_sys
import json as _harness_json
import contextlib as _harness_contextlib


def _harness_target():
    fn = globals().get("{{FN}}")
    if fn is None and "Solution" in globals():
        fn = getattr(globals()["Solution"](), "{{FN}}")
    return fn


_HARNESS_CASES = [
{{CASES}}]


def _harness_main():
    try:
        index = int(_harness_sys.argv[1])
        case = _HARNESS_CASES[index] if index >= 0 else None
    except (IndexError, ValueError):
        case = None
    if case is None:
        _harness_sys.stderr.write("harness: invalid case index\n")
        return {{EXIT_BAD_INDEX}}
    try:
        with _harness_contextlib.redirect_stdout(_harness_sys.stderr):
            result = case(_harness_target())
        encoded = _harness_json.dumps(result, separators=(",", ":"), allow_nan=False)
    except BaseException as exc:
        message = ("%s: %s" % (type(exc).__name__, exc)).replace("\n", " ")
        _harness_sys.stderr.write(message + "\n")
        return {{EXIT_THROWN}}
    _harness_sys.stdout.write(encoded + "\n")
    _harness_sys.stdout.flush()
    return 0


if __name__ == "__main__":
    _harness_sys.exit(_harness_main())
`

func python(in *input) []File {
	lines := make([]string, 0, len(in.cases))
	for _, c := range in.cases {
		lines = append(lines, fmt.Sprintf("(lambda fn: fn(%s)),", strings.Join(c, ", ")))
	}
	driver := fill(pythonDriver,
		"FN", in.fn,
		"CASES", indent(lines, "    "),
		"EXIT_BAD_INDEX", fmt.Sprint(ExitBadIndex),
		"EXIT_THROWN", fmt.Sprint(ExitThrown),
	)
	return []File{{Name: in.spec.MainFile, Content: terminated(in.source) + driver}}
}
