package workflow

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// NodeConfig is the typed form of a node's config map, one variant per subtype.
type NodeConfig interface {
	Kind() string
}

// FlexInt accepts JSON numbers and numeric strings; empty decodes to zero.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", string(b))
	}
	*f = FlexInt(n)
	return nil
}

// Policy holds the keys shared by every node config.
type Policy struct {
	ErrorHandling ErrorPolicy `json:"errorHandling,omitempty"`
	SkipExecution bool        `json:"skipExecution,omitempty"`
	Timeout       FlexInt     `json:"timeout,omitempty"`
}

// PolicyOf reads the cross-cutting keys leniently from a raw config map.
func PolicyOf(cfg map[string]any) Policy {
	var p Policy
	if s, ok := cfg["errorHandling"].(string); ok {
		p.ErrorHandling = ErrorPolicy(strings.ToLower(strings.TrimSpace(s)))
	}
	switch v := cfg["skipExecution"].(type) {
	case bool:
		p.SkipExecution = v
	case string:
		p.SkipExecution = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if n, ok := toInt(cfg["timeout"]); ok && n > 0 {
		p.Timeout = FlexInt(n)
	}
	switch p.ErrorHandling {
	case PolicyAbort, PolicyContinue, PolicyRetry:
	default:
		p.ErrorHandling = PolicyAbort
	}
	return p
}

type ConditionConfig struct {
	Condition string `json:"condition"`
}

func (ConditionConfig) Kind() string { return SubtypeCondition }

type LoopConfig struct {
	LoopType       string  `json:"loopType"`
	Collection     string  `json:"collection"`
	Count          FlexInt `json:"count"`
	WhileCondition string  `json:"whileCondition"`
	MaxIterations  FlexInt `json:"maxIterations"`
}

func (LoopConfig) Kind() string { return SubtypeLoop }

type ScheduleConfig struct {
	ScheduleType string  `json:"scheduleType"`
	Cron         string  `json:"cron"`
	Interval     FlexInt `json:"interval"`
	IntervalUnit string  `json:"intervalUnit"`
	FixedTime    string  `json:"fixedTime"`
}

func (ScheduleConfig) Kind() string { return SubtypeSchedule }

type WebhookConfig struct {
	URL             string `json:"url"`
	Method          string `json:"method"`
	Headers         any    `json:"headers"`
	Body            any    `json:"body"`
	ResponseMapping string `json:"responseMapping"`
}

func (WebhookConfig) Kind() string { return SubtypeWebhook }

type EmailConfig struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Service   string `json:"service"`
}

func (EmailConfig) Kind() string { return SubtypeEmail }

type SlackConfig struct {
	Channel    string `json:"channel"`
	Message    string `json:"message"`
	Username   string `json:"username"`
	WebhookURL string `json:"webhookUrl"`
}

func (SlackConfig) Kind() string { return SubtypeSlack }

type DatabaseConfig struct {
	Operation string `json:"operation"`
	Table     string `json:"table"`
	Key       string `json:"key"`
	Query     string `json:"query"`
	Data      any    `json:"data"`
}

func (DatabaseConfig) Kind() string { return SubtypeDatabase }

// PassthroughConfig keeps the raw map of a subtype without a typed variant.
type PassthroughConfig struct {
	Subtype string
	Raw     map[string]any
}

func (p PassthroughConfig) Kind() string { return p.Subtype }

// ParseNodeConfig decodes raw into the variant registered for subtype.
func ParseNodeConfig(subtype string, raw map[string]any) (NodeConfig, error) {
	var cfg NodeConfig
	switch subtype {
	case SubtypeCondition:
		cfg = &ConditionConfig{}
	case SubtypeLoop:
		cfg = &LoopConfig{}
	case SubtypeSchedule:
		cfg = &ScheduleConfig{}
	case SubtypeWebhook:
		cfg = &WebhookConfig{}
	case SubtypeEmail:
		cfg = &EmailConfig{}
	case SubtypeSlack:
		cfg = &SlackConfig{}
	case SubtypeDatabase:
		cfg = &DatabaseConfig{}
	default:
		return PassthroughConfig{Subtype: subtype, Raw: raw}, nil
	}
	if err := DecodeConfig(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", subtype, err)
	}
	return cfg, nil
}

// DecodeConfig converts a loosely typed config map into out.
func DecodeConfig(raw map[string]any, out any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
