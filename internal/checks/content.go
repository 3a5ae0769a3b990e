package checks

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/osbits/expira/internal/product"
)

// Content is the content analyzer output.
type Content struct {
	Info     *product.ContentInfo
	API      *product.APIResponse
	HTML     bool
	Title    string
	Meta     string
	JSON     any
	JSONOK   bool
	BodyText string
}

// analyzeContent extracts page metadata or JSON shape. It never escalates.
func analyzeContent(p product.Product, probe Probe) Content {
	var out Content
	if probe.Body == nil {
		return out
	}
	out.BodyText = string(probe.Body)
	out.Info = &product.ContentInfo{
		ContentLength: len(probe.Body),
		ContentType:   probe.ContentType,
	}

	ct := strings.ToLower(probe.ContentType)
	if p.Type == product.TypeAPI || strings.Contains(ct, "json") {
		if val, api, ok := parseJSON(probe.Body); ok {
			out.JSON = val
			out.JSONOK = true
			out.API = api
		}
	}

	if !out.JSONOK && (strings.Contains(ct, "html") || ct == "" || p.Type == product.TypeWebsite) {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(probe.Body)); err == nil {
			out.HTML = true
			out.Title = strings.TrimSpace(doc.Find("title").First().Text())
			doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				name, _ := s.Attr("name")
				if !strings.EqualFold(name, "description") {
					return true
				}
				out.Meta = strings.TrimSpace(s.AttrOr("content", ""))
				return false
			})
			out.Info.Title = out.Title
			out.Info.MetaDescription = out.Meta
		}
	}

	if expected, ok := p.CustomFields.Lookup("expectedText"); ok {
		if text, ok := toText(expected); ok && text != "" {
			has := strings.Contains(out.BodyText, text)
			out.Info.HasExpectedText = &has
		}
	}
	return out
}

// parseJSON decodes body and records the root kind and top-level keys in document order.
func parseJSON(body []byte) (any, *product.APIResponse, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var val any
	if err := dec.Decode(&val); err != nil {
		return nil, nil, false
	}
	if dec.More() {
		return nil, nil, false
	}
	api := &product.APIResponse{Type: "json", Root: jsonKind(val), Length: len(body)}
	if api.Root == "object" {
		api.Keys = objectKeys(body)
	}
	return val, api, true
}

func jsonKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return "null"
	}
}

func objectKeys(body []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, _ := tok.(string)
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}
