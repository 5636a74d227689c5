package executor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// UsageLimitPhrase is the fixed text the task CLI prints when the usage
// limit is hit, followed by "|<unix-seconds>".
const UsageLimitPhrase = "Claude AI usage limit reached"

var rateLimitPattern = regexp.MustCompile(regexp.QuoteMeta(UsageLimitPhrase) + `\|(\d+)`)

// DetectRateLimit searches combined output for the usage limit signal and
// returns the reset time.
func DetectRateLimit(output string) (time.Time, bool) {
	m := rateLimitPattern.FindStringSubmatch(output)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

// structuredOutput is what the CLI emits with --output-format json:
// {"type":"result","result":"...","session_id":"..."}
type structuredOutput struct {
	result    string
	sessionID string
	ok        bool
}

// parseStructuredOutput extracts result and session id. stream-json output
// is one JSON object per line; the last "result" object wins and any line
// may carry the session id.
func parseStructuredOutput(stdout string) structuredOutput {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return structuredOutput{}
	}

	if gjson.Valid(trimmed) {
		doc := gjson.Parse(trimmed)
		switch {
		case doc.IsArray():
			return fromJSON(pickResult(doc.Array()), trimmed)
		case doc.IsObject():
			return fromJSON(doc, trimmed)
		default:
			return structuredOutput{}
		}
	}

	var lines []gjson.Result
	var sessionID string
	for _, raw := range strings.Split(trimmed, "\n") {
		raw = strings.TrimSpace(raw)
		if !strings.HasPrefix(raw, "{") || !gjson.Valid(raw) {
			continue
		}
		line := gjson.Parse(raw)
		lines = append(lines, line)
		if sid := line.Get("session_id").String(); sid != "" {
			sessionID = sid
		}
	}
	if len(lines) == 0 {
		return structuredOutput{}
	}
	picked := pickResult(lines)
	out := fromJSON(picked, picked.Raw)
	if out.sessionID == "" {
		out.sessionID = sessionID
	}
	return out
}

func pickResult(items []gjson.Result) gjson.Result {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Get("type").String() == "result" {
			return items[i]
		}
	}
	if len(items) == 0 {
		return gjson.Result{}
	}
	return items[len(items)-1]
}

func fromJSON(doc gjson.Result, raw string) structuredOutput {
	out := structuredOutput{ok: true, sessionID: doc.Get("session_id").String()}
	if r := doc.Get("result"); r.Exists() {
		out.result = r.String()
	} else {
		out.result = strings.TrimSpace(string(pretty.Pretty([]byte(raw))))
	}
	return out
}

// extractOutput applies the output format rules to stdout.
func extractOutput(format, stdout string) (result, sessionID string) {
	if format != OutputFormatJSON && format != OutputFormatStream {
		return stdout, ""
	}
	parsed := parseStructuredOutput(stdout)
	if !parsed.ok {
		return stdout, ""
	}
	return parsed.result, parsed.sessionID
}
