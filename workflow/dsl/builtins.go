package dsl

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/taskflow/workflow"
)

// TransformerFactory 根据 args 构建转换函数
type TransformerFactory func(args map[string]any) (workflow.TransformFunc, error)

// ValidatorFactory 根据 args 构建校验谓词
type ValidatorFactory func(args map[string]any) (workflow.ValidateFunc, error)

func (p *Parser) registerBuiltins() {
	p.RegisterTransformer("trim", stringTransform(strings.TrimSpace))
	p.RegisterTransformer("uppercase", stringTransform(strings.ToUpper))
	p.RegisterTransformer("lowercase", stringTransform(strings.ToLower))
	p.RegisterTransformer("json", func(map[string]any) (workflow.TransformFunc, error) {
		return func(_ context.Context, input any) (any, error) {
			if s, ok := input.(string); ok {
				return s, nil
			}
			b, err := json.Marshal(input)
			if err != nil {
				return nil, fmt.Errorf("json transformer: %w", err)
			}
			return string(b), nil
		}, nil
	})
	p.RegisterTransformer("prefix", func(args map[string]any) (workflow.TransformFunc, error) {
		text, err := stringArg(args, "text")
		if err != nil {
			return nil, err
		}
		return func(_ context.Context, input any) (any, error) {
			return text + workflow.Stringify(input), nil
		}, nil
	})
	p.RegisterTransformer("truncate", func(args map[string]any) (workflow.TransformFunc, error) {
		max, err := intArg(args, "max")
		if err != nil {
			return nil, err
		}
		return func(_ context.Context, input any) (any, error) {
			s := workflow.Stringify(input)
			if utf8.RuneCountInString(s) <= max {
				return s, nil
			}
			return string([]rune(s)[:max]), nil
		}, nil
	})

	p.RegisterValidator("non_empty", func(map[string]any) (workflow.ValidateFunc, error) {
		return func(input any) bool {
			return input != nil && strings.TrimSpace(workflow.Stringify(input)) != ""
		}, nil
	})
	p.RegisterValidator("json", func(map[string]any) (workflow.ValidateFunc, error) {
		return func(input any) bool {
			s, ok := input.(string)
			return ok && json.Valid([]byte(s))
		}, nil
	})
	p.RegisterValidator("min_length", func(args map[string]any) (workflow.ValidateFunc, error) {
		min, err := intArg(args, "min")
		if err != nil {
			return nil, err
		}
		return func(input any) bool {
			return utf8.RuneCountInString(workflow.Stringify(input)) >= min
		}, nil
	})
	p.RegisterValidator("max_length", func(args map[string]any) (workflow.ValidateFunc, error) {
		max, err := intArg(args, "max")
		if err != nil {
			return nil, err
		}
		return func(input any) bool {
			return utf8.RuneCountInString(workflow.Stringify(input)) <= max
		}, nil
	})
	p.RegisterValidator("contains", func(args map[string]any) (workflow.ValidateFunc, error) {
		text, err := stringArg(args, "text")
		if err != nil {
			return nil, err
		}
		return func(input any) bool {
			return strings.Contains(workflow.Stringify(input), text)
		}, nil
	})
	p.RegisterValidator("matches", func(args map[string]any) (workflow.ValidateFunc, error) {
		pattern, err := stringArg(args, "pattern")
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("matches validator: %w", err)
		}
		return func(input any) bool {
			return re.MatchString(workflow.Stringify(input))
		}, nil
	})
}

func stringTransform(fn func(string) string) TransformerFactory {
	return func(map[string]any) (workflow.TransformFunc, error) {
		return func(_ context.Context, input any) (any, error) {
			return fn(workflow.Stringify(input)), nil
		}, nil
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q must be a string, got %T", key, v)
	}
	return s, nil
}

// intArg YAML 整数解码为 int，JSON 数字解码为 float64，两者都接受
func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing arg %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("arg %q must be a number, got %T", key, v)
	}
}
