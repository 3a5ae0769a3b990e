package checks

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/osbits/expira/internal/product"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func fields(categories ...product.RuleCategory) product.CustomFields {
	return product.CustomFields(categories)
}

func category(name string, kv ...any) product.RuleCategory {
	c := product.RuleCategory{Name: name}
	for i := 0; i+1 < len(kv); i += 2 {
		c.Rules = append(c.Rules, product.Rule{Key: kv[i].(string), Value: kv[i+1]})
	}
	return c
}

func htmlSignals() Signals {
	return Signals{
		StatusCode:   intPtr(200),
		ResponseTime: int64Ptr(120),
		ContentType:  "text/html; charset=utf-8",
		HasBody:      true,
		Body:         "<html><title>Home</title><body>Welcome back</body></html>",
		Title:        "Home",
		Meta:         "The best shop",
	}
}

func TestEvaluateRulesViolations(t *testing.T) {
	tests := []struct {
		name    string
		rules   product.RuleCategory
		sig     Signals
		message string
	}{
		{"expectedText", category("Content", "expectedText", "Goodbye"), htmlSignals(), `Expected text "Goodbye" not found`},
		{"expectedTitle", category("Content", "expectedTitle", "Shop"), htmlSignals(), `Title mismatch: expected "Shop", got "Home"`},
		{"expectedMeta", category("Content", "expectedMeta", "worst"), htmlSignals(), `Meta description does not contain "worst"`},
		{"expectedStatusCode", category("HTTP Status", "expectedStatusCode", 201), htmlSignals(), "Expected status code 201, got 200"},
		{"expectedStatusCode string", category("HTTP Status", "expectedStatusCode", "204"), htmlSignals(), "Expected status code 204, got 200"},
		{"allowedStatusCodes", category("HTTP Status", "allowedStatusCodes", "201, 204"), htmlSignals(), "Status code 200 is not in allowed list (201, 204)"},
		{"maxResponseTime", category("Performance", "maxResponseTime", 100), htmlSignals(), "Response time 120ms exceeds maximum 100ms"},
		{"minResponseTime", category("Performance", "minResponseTime", json.Number("500")), htmlSignals(), "Response time 120ms is below minimum 500ms"},
		{"timeout", category("Performance", "timeout", 50), htmlSignals(), "Response time 120ms exceeds timeout 50ms"},
		{"expectedResponseFormat", category("API Response", "expectedResponseFormat", "json"), htmlSignals(), `Expected JSON response, got content-type "text/html; charset=utf-8"`},
		{"expression", category("Advanced", "expression", "statusCode == 200 && responseTime < 100"), htmlSignals(), `Expression "statusCode == 200 && responseTime < 100" evaluated to false`},
	}
	for _, tt := range tests {
		findings := EvaluateRules(fields(tt.rules), tt.sig)
		if len(findings) != 1 {
			t.Fatalf("%s: expected 1 finding, got %+v", tt.name, findings)
		}
		if findings[0].Severity != SeverityWarning || findings[0].Message != tt.message {
			t.Fatalf("%s: got %s %q", tt.name, findings[0].Severity, findings[0].Message)
		}
	}
}

func TestEvaluateRulesPassing(t *testing.T) {
	rules := fields(
		category("Content", "expectedText", "Welcome", "expectedTitle", "Home", "expectedMeta", "best"),
		category("HTTP Status", "expectedStatusCode", 200, "allowedStatusCodes", "200,201"),
		category("Performance", "maxResponseTime", 500, "minResponseTime", 5, "timeout", 1000),
		category("Advanced", "expression", "statusCode < 400"),
	)
	if findings := EvaluateRules(rules, htmlSignals()); len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
}

func TestAllowedStatusCodesSkipsMalformedEntries(t *testing.T) {
	sig := htmlSignals()
	if findings := EvaluateRules(fields(category("HTTP", "allowedStatusCodes", "abc, 200, ,x1")), sig); len(findings) != 0 {
		t.Fatalf("expected 200 to be allowed, got %+v", findings)
	}
	if findings := EvaluateRules(fields(category("HTTP", "allowedStatusCodes", "abc, nope")), sig); len(findings) != 0 {
		t.Fatalf("expected fully malformed list to be skipped, got %+v", findings)
	}
	findings := EvaluateRules(fields(category("HTTP", "allowedStatusCodes", []any{201, "oops", 202})), sig)
	if len(findings) != 1 || !strings.Contains(findings[0].Message, "(201, 202)") {
		t.Fatalf("unexpected findings %+v", findings)
	}
}

func TestRulesWithoutSignalAreSkipped(t *testing.T) {
	rules := fields(category("Everything",
		"expectedText", "x",
		"expectedTitle", "x",
		"expectedStatusCode", 200,
		"maxResponseTime", 1,
		"expectedJsonKey", "status",
		"expression", "statusCode == 200",
		"unknownRule", true,
	))
	if findings := EvaluateRules(rules, Signals{}); len(findings) != 0 {
		t.Fatalf("expected all rules skipped, got %+v", findings)
	}
}

func TestRuleIndependence(t *testing.T) {
	sig := htmlSignals()
	rules := fields(
		category("API Response", "expectedJsonKey", 12, "expectedJsonValue", "ok"),
		category("HTTP Status", "expectedStatusCode", 404),
	)
	findings := EvaluateRules(rules, sig)
	if len(findings) != 1 || findings[0].Message != "Expected status code 404, got 200" {
		t.Fatalf("unexpected findings %+v", findings)
	}
}

func TestExpectedJSONKey(t *testing.T) {
	var doc any
	dec := json.NewDecoder(strings.NewReader(`{"status":"fail","data":{"state":"ready","count":3}}`))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	sig := Signals{StatusCode: intPtr(200), HasJSON: true, JSON: doc}

	tests := []struct {
		name    string
		rules   product.RuleCategory
		message string
	}{
		{"mismatch", category("API", "expectedJsonKey", "status", "expectedJsonValue", "ok"), `JSON key "status" expected value "ok" but got "fail"`},
		{"missing", category("API", "expectedJsonKey", "version"), `JSON key "version" not found in response`},
		{"path match", category("API", "expectedJsonKey", "$.data.state", "expectedJsonValue", "ready"), ""},
		{"dotted path", category("API", "expectedJsonKey", "data.count", "expectedJsonValue", 3), ""},
		{"path missing", category("API", "expectedJsonKey", "data.missing"), `JSON key "data.missing" not found in response`},
		{"present only", category("API", "expectedJsonKey", "status"), ""},
	}
	for _, tt := range tests {
		findings := EvaluateRules(fields(tt.rules), sig)
		if tt.message == "" {
			if len(findings) != 0 {
				t.Fatalf("%s: expected no findings, got %+v", tt.name, findings)
			}
			continue
		}
		if len(findings) != 1 || findings[0].Message != tt.message {
			t.Fatalf("%s: unexpected findings %+v", tt.name, findings)
		}
	}
}

func TestEvaluateRulesKeepsOrder(t *testing.T) {
	rules := fields(
		category("Performance", "maxResponseTime", 10),
		category("HTTP Status", "expectedStatusCode", 201),
	)
	findings := EvaluateRules(rules, htmlSignals())
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %+v", findings)
	}
	if !strings.HasPrefix(findings[0].Message, "Response time") || !strings.HasPrefix(findings[1].Message, "Expected status") {
		t.Fatalf("findings out of order: %+v", findings)
	}
}
