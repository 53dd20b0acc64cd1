package harness

import (
	"fmt"
	"strings"

	"codearena/internal/judge/value"
)

const javascriptDriver = `

// ---- judge harness ----
const _harnessReturnType = {{RETURN_TYPE}};

const _harnessCases = [
{{CASES}}];

function _harnessTarget() {
  if (typeof {{FN}} === "function") return {{FN}};
  if (typeof Solution === "function") {
    const instance = new Solution();
    return instance.{{FN}}.bind(instance);
  }
  throw new ReferenceError("{{FN}} is not defined");
}

function _harnessEncode(v, t) {
  if (v === null || v === undefined) return "null";
  if (typeof v === "boolean") return v ? "true" : "false";
  if (typeof v === "number") {
    if (!Number.isFinite(v)) throw new RangeError("cannot encode non-finite number " + v);
    let s = String(v);
    if (t && t.k === "float" && !/[.eE]/.test(s)) s += ".0";
    return s;
  }
  if (typeof v === "bigint") return v.toString();
  if (typeof v === "string") return JSON.stringify(v);
  const elem = t ? t.e : undefined;
  if (Array.isArray(v) || ArrayBuffer.isView(v) || v instanceof Set) {
    return "[" + Array.from(v, (x) => _harnessEncode(x, elem)).join(",") + "]";
  }
  if (v instanceof Map) {
    return "{" + Array.from(v, ([k, x]) => JSON.stringify(String(k)) + ":" + _harnessEncode(x, elem)).join(",") + "}";
  }
  if (typeof v === "object") {
    return "{" + Object.keys(v).map((k) => JSON.stringify(k) + ":" + _harnessEncode(v[k], elem)).join(",") + "}";
  }
  throw new TypeError("cannot encode value of type " + typeof v);
}

(async () => {
  const index = Number(process.argv[2]);
  if (!Number.isInteger(index) || index < 0 || index >= _harnessCases.length) {
    process.stderr.write("harness: invalid case index\n");
    process.exitCode = {{EXIT_BAD_INDEX}};
    return;
  }
  const stdoutWrite = process.stdout.write.bind(process.stdout);
  process.stdout.write = process.stderr.write.bind(process.stderr);
  let encoded;
  try {
    let result = _harnessCases[index](_harnessTarget());
    if (result && typeof result.then === "function") result = await result;
    encoded = _harnessEncode(result, _harnessReturnType);
  } catch (err) {
    const message = err && err.name ? err.name + ": " + err.message : String(err);
    process.stderr.write(message.replace(/\n/g, " ") + "\n");
    process.exitCode = {{EXIT_THROWN}};
    return;
  } finally {
    process.stdout.write = stdoutWrite;
  }
  stdoutWrite(encoded + "\n");
})();
`

func javascript(in *input) []File {
	lines := make([]string, 0, len(in.cases))
	for _, c := range in.cases {
		lines = append(lines, fmt.Sprintf("(fn) => fn(%s),", strings.Join(c, ", ")))
	}
	driver := fill(javascriptDriver,
		"FN", in.fn,
		"RETURN_TYPE", jsTypeHint(in.ret),
		"CASES", indent(lines, "  "),
		"EXIT_BAD_INDEX", fmt.Sprint(ExitBadIndex),
		"EXIT_THROWN", fmt.Sprint(ExitThrown),
	)
	return []File{{Name: in.spec.MainFile, Content: terminated(in.source) + driver}}
}

// jsTypeHint lets the encoder tell 2 from 2.0, which JavaScript numbers cannot.
func jsTypeHint(t value.Type) string {
	var kind string
	switch t.Kind {
	case value.TypeInt:
		kind = "int"
	case value.TypeFloat:
		kind = "float"
	case value.TypeBool:
		kind = "bool"
	case value.TypeString:
		kind = "string"
	case value.TypeList:
		kind = "list"
	case value.TypeMap:
		kind = "map"
	}
	if t.Elem == nil {
		return fmt.Sprintf(`{k: %q}`, kind)
	}
	return fmt.Sprintf(`{k: %q, e: %s}`, kind, jsTypeHint(*t.Elem))
}
