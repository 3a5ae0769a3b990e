package product

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Rule is a single user-authored assertion such as expectedStatusCode: 200.
type Rule struct {
	Key   string
	Value any
}

// RuleCategory groups rules under a user-visible heading.
type RuleCategory struct {
	Name  string
	Rules []Rule
}

// CustomFields keeps categories and rules in the order the user defined them.
type CustomFields []RuleCategory

// Lookup returns the first value defined for key in any category.
func (c CustomFields) Lookup(key string) (any, bool) {
	for _, category := range c {
		for _, rule := range category.Rules {
			if rule.Key == key {
				return rule.Value, true
			}
		}
	}
	return nil, false
}

// Category returns the named category.
func (c CustomFields) Category(name string) (RuleCategory, bool) {
	for _, category := range c {
		if category.Name == name {
			return category, true
		}
	}
	return RuleCategory{}, false
}

// Lookup returns the value for key within the category.
func (rc RuleCategory) Lookup(key string) (any, bool) {
	for _, rule := range rc.Rules {
		if rule.Key == key {
			return rule.Value, true
		}
	}
	return nil, false
}

// UnmarshalYAML reads a mapping of category -> mapping of rule -> value,
// preserving document order.
func (c *CustomFields) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*c = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("custom fields must be a mapping, got %s", value.ShortTag())
	}
	out := make(CustomFields, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		nameNode, rulesNode := value.Content[i], value.Content[i+1]
		if rulesNode.Kind != yaml.MappingNode {
			return fmt.Errorf("custom field category %q must be a mapping, got %s", nameNode.Value, rulesNode.ShortTag())
		}
		category := RuleCategory{Name: nameNode.Value}
		for j := 0; j+1 < len(rulesNode.Content); j += 2 {
			var val any
			if err := rulesNode.Content[j+1].Decode(&val); err != nil {
				return fmt.Errorf("custom field %q.%q: %w", nameNode.Value, rulesNode.Content[j].Value, err)
			}
			category.Rules = append(category.Rules, Rule{Key: rulesNode.Content[j].Value, Value: val})
		}
		out = append(out, category)
	}
	*c = out
	return nil
}

// MarshalJSON writes categories as a JSON object in definition order.
func (c CustomFields) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, category := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(category.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(":{")
		for j, rule := range category.Rules {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(rule.Key)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(rule.Value)
			if err != nil {
				return nil, fmt.Errorf("encode rule %q: %w", rule.Key, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of objects, preserving key order.
func (c *CustomFields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("custom fields must be an object")
	}
	out := CustomFields{}
	for dec.More() {
		nameTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := nameTok.(string)
		open, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := open.(json.Delim); !ok || delim != '{' {
			return fmt.Errorf("custom field category %q must be an object", name)
		}
		category := RuleCategory{Name: name}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			var val any
			if err := dec.Decode(&val); err != nil {
				return fmt.Errorf("custom field %q.%q: %w", name, key, err)
			}
			category.Rules = append(category.Rules, Rule{Key: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
		out = append(out, category)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}
