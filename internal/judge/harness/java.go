package harness

import (
	"fmt"
	"strings"
)

const javaDriver = `import java.io.PrintStream;
import java.lang.reflect.Array;
import java.util.*;

public class Main {
    private static final int CASES = {{CASE_COUNT}};

    public static void main(String[] args) {
        int index = -1;
        try {
            index = Integer.parseInt(args[0]);
        } catch (RuntimeException e) {
            // handled below
        }
        if (index < 0 || index >= CASES) {
            System.err.println("harness: invalid case index");
            System.exit({{EXIT_BAD_INDEX}});
            return;
        }
        PrintStream stdout = System.out;
        System.setOut(System.err);
        String encoded;
        try {
            StringBuilder out = new StringBuilder();
            encode(out, run(index));
            encoded = out.toString();
        } catch (Throwable e) {
            String message = e.getClass().getSimpleName() + ": " + e.getMessage();
            System.err.println(message.replace('\n', ' '));
            System.err.flush();
            System.exit({{EXIT_THROWN}});
            return;
        }
        stdout.println(encoded);
        stdout.flush();
        System.exit(0);
    }

    private static Object run(int index) throws Exception {
        switch (index) {
{{CASES}}            default:
                throw new IllegalArgumentException("no case " + index);
        }
    }

    private static void encode(StringBuilder out, Object v) {
        if (v == null) {
            out.append("null");
        } else if (v instanceof Boolean || v instanceof Integer || v instanceof Long
                || v instanceof Short || v instanceof Byte) {
            out.append(v);
        } else if (v instanceof Double || v instanceof Float) {
            double d = ((Number) v).doubleValue();
            if (Double.isNaN(d) || Double.isInfinite(d)) {
                throw new ArithmeticException("cannot encode non-finite number " + d);
            }
            out.append(v instanceof Float ? Float.toString((Float) v) : Double.toString(d));
        } else if (v instanceof CharSequence || v instanceof Character) {
            quote(out, v.toString());
        } else if (v.getClass().isArray()) {
            out.append('[');
            int n = Array.getLength(v);
            for (int i = 0; i < n; i++) {
                if (i > 0) out.append(',');
                encode(out, Array.get(v, i));
            }
            out.append(']');
        } else if (v instanceof Iterable) {
            out.append('[');
            boolean first = true;
            for (Object item : (Iterable<?>) v) {
                if (!first) out.append(',');
                first = false;
                encode(out, item);
            }
            out.append(']');
        } else if (v instanceof Map) {
            out.append('{');
            boolean first = true;
            for (Map.Entry<?, ?> e : ((Map<?, ?>) v).entrySet()) {
                if (!first) out.append(',');
                first = false;
                quote(out, String.valueOf(e.getKey()));
                out.append(':');
                encode(out, e.getValue());
            }
            out.append('}');
        } else {
            throw new IllegalArgumentException("cannot encode " + v.getClass().getName());
        }
    }

    private static void quote(StringBuilder out, String s) {
        out.append('"');
        for (int i = 0; i < s.length(); i++) {
            char c = s.charAt(i);
            switch (c) {
                case '"': out.append("\\\""); break;
                case '\\': out.append("\\\\"); break;
                case '\n': out.append("\\n"); break;
                case '\r': out.append("\\r"); break;
                case '\t': out.append("\\t"); break;
                default:
                    if (c < 0x20 || c > 0x7e) {
                        out.append(String.format("\\u%04x", (int) c));
                    } else {
                        out.append(c);
                    }
            }
        }
        out.append('"');
    }
}
`

func java(in *input) []File {
	var cases strings.Builder
	for i := range in.cases {
		decls, names := typedLocals(in, i, "%s %s = %s;")
		body := append(decls, fmt.Sprintf("return new Solution().%s(%s);", in.fn, strings.Join(names, ", ")))
		fmt.Fprintf(&cases, "            case %d: {\n%s            }\n", i, indent(body, "                "))
	}
	driver := fill(javaDriver,
		"CASE_COUNT", fmt.Sprint(len(in.cases)),
		"CASES", cases.String(),
		"EXIT_BAD_INDEX", fmt.Sprint(ExitBadIndex),
		"EXIT_THROWN", fmt.Sprint(ExitThrown),
	)
	return []File{
		{Name: in.spec.SourceFile, Content: in.source},
		{Name: in.spec.MainFile, Content: driver},
	}
}
