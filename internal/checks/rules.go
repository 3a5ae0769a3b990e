package checks

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/oliveagle/jsonpath"

	"github.com/osbits/expira/internal/product"
)

// Signals are the observations rules are evaluated against. Nil pointers
// and false flags mean the signal was never collected.
type Signals struct {
	StatusCode    *int
	ResponseTime  *int64
	ContentType   string
	HasBody       bool
	Body          string
	Title         string
	Meta          string
	JSON          any
	HasJSON       bool
	ContentLength *int
	SSLDays       *int
}

// EvaluateRules walks categories then rules in definition order. Violations
// escalate to warning only; rules without their signal are skipped.
func EvaluateRules(fields product.CustomFields, sig Signals) []Finding {
	var findings []Finding
	for _, category := range fields {
		for _, rule := range category.Rules {
			msg, violated := evaluateRule(category, rule, sig)
			if !violated {
				continue
			}
			findings = append(findings, Finding{Stage: "rules", Severity: SeverityWarning, Message: msg})
		}
	}
	return findings
}

func evaluateRule(category product.RuleCategory, rule product.Rule, sig Signals) (string, bool) {
	switch rule.Key {
	case "expectedText":
		expected, ok := toText(rule.Value)
		if !ok || !sig.HasBody {
			return "", false
		}
		if !strings.Contains(sig.Body, expected) {
			return fmt.Sprintf("Expected text %q not found", expected), true
		}
	case "expectedTitle":
		expected, ok := toText(rule.Value)
		if !ok || !sig.HasBody {
			return "", false
		}
		if sig.Title != expected {
			return fmt.Sprintf("Title mismatch: expected %q, got %q", expected, sig.Title), true
		}
	case "expectedMeta":
		expected, ok := toText(rule.Value)
		if !ok || !sig.HasBody {
			return "", false
		}
		if !strings.Contains(sig.Meta, expected) {
			return fmt.Sprintf("Meta description does not contain %q", expected), true
		}
	case "expectedStatusCode":
		expected, ok := toInt(rule.Value)
		if !ok || sig.StatusCode == nil {
			return "", false
		}
		if *sig.StatusCode != expected {
			return fmt.Sprintf("Expected status code %d, got %d", expected, *sig.StatusCode), true
		}
	case "allowedStatusCodes":
		allowed := parseStatusList(rule.Value)
		if len(allowed) == 0 || sig.StatusCode == nil {
			return "", false
		}
		for _, code := range allowed {
			if code == *sig.StatusCode {
				return "", false
			}
		}
		return fmt.Sprintf("Status code %d is not in allowed list (%s)", *sig.StatusCode, joinInts(allowed)), true
	case "maxResponseTime":
		limit, ok := toInt(rule.Value)
		if !ok || sig.ResponseTime == nil {
			return "", false
		}
		if *sig.ResponseTime > int64(limit) {
			return fmt.Sprintf("Response time %dms exceeds maximum %dms", *sig.ResponseTime, limit), true
		}
	case "minResponseTime":
		limit, ok := toInt(rule.Value)
		if !ok || sig.ResponseTime == nil {
			return "", false
		}
		if *sig.ResponseTime < int64(limit) {
			return fmt.Sprintf("Response time %dms is below minimum %dms", *sig.ResponseTime, limit), true
		}
	case "timeout":
		limit, ok := toInt(rule.Value)
		if !ok || sig.ResponseTime == nil {
			return "", false
		}
		if *sig.ResponseTime > int64(limit) {
			return fmt.Sprintf("Response time %dms exceeds timeout %dms", *sig.ResponseTime, limit), true
		}
	case "expectedResponseFormat":
		format, ok := toText(rule.Value)
		if !ok || !strings.EqualFold(format, "json") || sig.StatusCode == nil {
			return "", false
		}
		if !strings.Contains(strings.ToLower(sig.ContentType), "json") {
			return fmt.Sprintf("Expected JSON response, got content-type %q", sig.ContentType), true
		}
	case "expectedJsonKey":
		return evaluateJSONKey(category, rule, sig)
	case "expression":
		return evaluateExpression(rule, sig)
	}
	return "", false
}

func evaluateJSONKey(category product.RuleCategory, rule product.Rule, sig Signals) (string, bool) {
	key, ok := toText(rule.Value)
	if !ok || key == "" || !sig.HasJSON {
		return "", false
	}
	actual, found := lookupJSON(sig.JSON, key)
	if !found {
		return fmt.Sprintf("JSON key %q not found in response", key), true
	}
	expectedRaw, hasExpected := category.Lookup("expectedJsonValue")
	if !hasExpected || expectedRaw == nil {
		return "", false
	}
	expected := fmt.Sprint(expectedRaw)
	got := jsonText(actual)
	if got != expected {
		return fmt.Sprintf("JSON key %q expected value %q but got %q", key, expected, got), true
	}
	return "", false
}

// lookupJSON resolves a top-level key or a JSONPath such as $.data.status.
func lookupJSON(doc any, key string) (any, bool) {
	if !strings.HasPrefix(key, "$") && !strings.Contains(key, ".") {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, false
		}
		val, found := obj[key]
		return val, found
	}
	path := key
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	val, err := jsonpath.JsonPathLookup(doc, path)
	if err != nil {
		return nil, false
	}
	return val, true
}

func jsonText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case nil:
		return "null"
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}

func evaluateExpression(rule product.Rule, sig Signals) (string, bool) {
	src, ok := toText(rule.Value)
	if !ok || strings.TrimSpace(src) == "" {
		return "", false
	}
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return "", false
	}
	params := make(map[string]interface{}, 4)
	if sig.StatusCode != nil {
		params["statusCode"] = float64(*sig.StatusCode)
	}
	if sig.ResponseTime != nil {
		params["responseTime"] = float64(*sig.ResponseTime)
	}
	if sig.ContentLength != nil {
		params["contentLength"] = float64(*sig.ContentLength)
	}
	if sig.SSLDays != nil {
		params["daysUntilSslExpiry"] = float64(*sig.SSLDays)
	}
	for _, name := range expr.Vars() {
		if _, ok := params[name]; !ok {
			return "", false
		}
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return "", false
	}
	passed, ok := result.(bool)
	if !ok || passed {
		return "", false
	}
	return fmt.Sprintf("Expression %q evaluated to false", src), true
}

func toText(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case uint64:
		return int(val), true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i), true
		}
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case string:
		s := strings.TrimSpace(val)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

// parseStatusList accepts "200, 201" or a list; malformed entries are skipped.
func parseStatusList(v any) []int {
	var parts []any
	switch val := v.(type) {
	case string:
		for _, s := range strings.Split(val, ",") {
			parts = append(parts, s)
		}
	case []any:
		parts = val
	default:
		if code, ok := toInt(val); ok {
			return []int{code}
		}
		return nil
	}
	codes := make([]int, 0, len(parts))
	for _, part := range parts {
		if s, ok := part.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if code, ok := toInt(part); ok {
			codes = append(codes, code)
		}
	}
	return codes
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
