package harness

import (
	"fmt"
	"strings"
)

const cppPrelude = `#include <bits/stdc++.h>
#include <unistd.h>
using namespace std;

`

const cppDriver = `

// ---- judge harness ----
namespace harness {

void encode(std::string& out, bool v);
void encode(std::string& out, int v);
void encode(std::string& out, long v);
void encode(std::string& out, long long v);
void encode(std::string& out, double v);
void encode(std::string& out, const char* v);
void encode(std::string& out, const std::string& v);
template <typename T> void encode(std::string& out, const std::vector<T>& v);
template <typename T> void encode(std::string& out, const std::unordered_map<std::string, T>& v);
template <typename T> void encode(std::string& out, const std::map<std::string, T>& v);

void encode(std::string& out, bool v) { out += v ? "true" : "false"; }
void encode(std::string& out, int v) { out += std::to_string(v); }
void encode(std::string& out, long v) { out += std::to_string(v); }
void encode(std::string& out, long long v) { out += std::to_string(v); }

void encode(std::string& out, double v) {
    if (!std::isfinite(v)) throw std::domain_error("cannot encode non-finite number");
    char buf[40];
    for (int precision = 15; precision <= 17; precision++) {
        std::snprintf(buf, sizeof buf, "%.*g", precision, v);
        if (std::strtod(buf, nullptr) == v) break;
    }
    std::string s(buf);
    if (s.find_first_of(".eE") == std::string::npos) s += ".0";
    out += s;
}

void encode(std::string& out, const std::string& v) {
    out += '"';
    for (unsigned char c : v) {
        switch (c) {
        case '"': out += "\\\""; break;
        case '\\': out += "\\\\"; break;
        case '\n': out += "\\n"; break;
        case '\r': out += "\\r"; break;
        case '\t': out += "\\t"; break;
        default:
            if (c < 0x20) {
                char buf[8];
                std::snprintf(buf, sizeof buf, "\\u%04x", c);
                out += buf;
            } else {
                out += static_cast<char>(c);
            }
        }
    }
    out += '"';
}

void encode(std::string& out, const char* v) { encode(out, std::string(v)); }

template <typename T> void encode(std::string& out, const std::vector<T>& v) {
    out += '[';
    bool first = true;
    for (const auto& item : v) {
        if (!first) out += ',';
        first = false;
        encode(out, item);
    }
    out += ']';
}

template <typename M> void encode_object(std::string& out, const M& v) {
    out += '{';
    bool first = true;
    for (const auto& entry : v) {
        if (!first) out += ',';
        first = false;
        encode(out, entry.first);
        out += ':';
        encode(out, entry.second);
    }
    out += '}';
}

template <typename T> void encode(std::string& out, const std::unordered_map<std::string, T>& v) { encode_object(out, v); }
template <typename T> void encode(std::string& out, const std::map<std::string, T>& v) { encode_object(out, v); }

std::string run(int index) {
    std::string out;
    switch (index) {
{{CASES}}    default:
        throw std::out_of_range("no case " + std::to_string(index));
    }
    return out;
}

}  // namespace harness

int main(int argc, char** argv) {
    const int cases = {{CASE_COUNT}};
    int index = -1;
    if (argc > 1) {
        char* end = nullptr;
        long parsed = std::strtol(argv[1], &end, 10);
        if (end != argv[1] && *end == '\0' && parsed >= 0 && parsed < cases) index = static_cast<int>(parsed);
    }
    if (index < 0) {
        std::fputs("harness: invalid case index\n", stderr);
        return {{EXIT_BAD_INDEX}};
    }
    std::fflush(stdout);
    int saved = dup(STDOUT_FILENO);
    dup2(STDERR_FILENO, STDOUT_FILENO);
    std::string encoded;
    int code = 0;
    try {
        encoded = harness::run(index);
    } catch (const std::exception& e) {
        std::string message = std::string("exception: ") + e.what();
        std::replace(message.begin(), message.end(), '\n', ' ');
        std::fprintf(stderr, "%s\n", message.c_str());
        code = {{EXIT_THROWN}};
    } catch (...) {
        std::fputs("exception: unknown\n", stderr);
        code = {{EXIT_THROWN}};
    }
    std::cout.flush();
    std::fflush(stdout);
    dup2(saved, STDOUT_FILENO);
    close(saved);
    if (code != 0) return code;
    encoded += '\n';
    std::fwrite(encoded.data(), 1, encoded.size(), stdout);
    std::fflush(stdout);
    return 0;
}
`

func cpp(in *input) []File {
	var cases strings.Builder
	for i := range in.cases {
		decls, names := typedLocals(in, i, "%s %s = %s;")
		body := append(decls,
			fmt.Sprintf("auto result = ::%s(%s);", in.fn, strings.Join(names, ", ")),
			"encode(out, result);",
			"break;",
		)
		fmt.Fprintf(&cases, "    case %d: {\n%s    }\n", i, indent(body, "        "))
	}
	driver := fill(cppDriver,
		"CASE_COUNT", fmt.Sprint(len(in.cases)),
		"CASES", cases.String(),
		"EXIT_BAD_INDEX", fmt.Sprint(ExitBadIndex),
		"EXIT_THROWN", fmt.Sprint(ExitThrown),
	)
	content := cppPrelude + terminated(in.source) + driver
	return []File{{Name: in.spec.MainFile, Content: content}}
}
