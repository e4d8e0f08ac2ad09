package dsl

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/workflow"
)

// Parser 流水线定义解析器
type Parser struct {
	transformers map[string]TransformerFactory
	validators   map[string]ValidatorFactory
}

// NewParser 创建解析器并注册内置的转换函数与校验谓词
func NewParser() *Parser {
	p := &Parser{
		transformers: make(map[string]TransformerFactory),
		validators:   make(map[string]ValidatorFactory),
	}
	p.registerBuiltins()
	return p
}

// RegisterTransformer 注册命名转换函数工厂，同名覆盖
func (p *Parser) RegisterTransformer(name string, factory TransformerFactory) {
	p.transformers[name] = factory
}

// RegisterValidator 注册命名校验谓词工厂，同名覆盖
func (p *Parser) RegisterValidator(name string, factory ValidatorFactory) {
	p.validators[name] = factory
}

// Transformers returns the registered transformer names, sorted.
func (p *Parser) Transformers() []string { return sortedKeys(p.transformers) }

// Validators returns the registered validator names, sorted.
func (p *Parser) Validators() []string { return sortedKeys(p.validators) }

// ParseFile 从文件解析流水线定义
func (p *Parser) ParseFile(filename string) ([]workflow.Pipeline, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML 字节解析流水线定义
func (p *Parser) Parse(data []byte) ([]workflow.Pipeline, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := p.validate(&f); err != nil {
		return nil, fmt.Errorf("validate definitions: %w", err)
	}

	out := make([]workflow.Pipeline, 0, len(f.Pipelines))
	for i := range f.Pipelines {
		pl, err := p.buildPipeline(&f.Pipelines[i], f.Variables)
		if err != nil {
			return nil, fmt.Errorf("build pipeline %s: %w", f.Pipelines[i].ID, err)
		}
		out = append(out, pl)
	}
	return out, nil
}

// LoadInto 解析文件并注册到 engine
func (p *Parser) LoadInto(engine *workflow.Engine, filename string) (int, error) {
	pipelines, err := p.ParseFile(filename)
	if err != nil {
		return 0, err
	}
	for i, pl := range pipelines {
		if err := engine.Register(pl); err != nil {
			return i, fmt.Errorf("register pipeline %s: %w", pl.ID, err)
		}
	}
	return len(pipelines), nil
}

func (p *Parser) validate(f *File) error {
	v := &Validator{transformers: p.transformers, validators: p.validators}
	errs := v.Validate(f)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func (p *Parser) buildPipeline(def *PipelineDef, vars map[string]string) (workflow.Pipeline, error) {
	pl := workflow.Pipeline{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Mode:        workflow.Mode(def.Mode),
	}
	if def.Retry != nil {
		pl.Retry = workflow.RetryPolicy{Enabled: def.Retry.Enabled, MaxRetries: def.Retry.MaxRetries}
		if def.Retry.BaseDelay != "" {
			d, err := time.ParseDuration(def.Retry.BaseDelay)
			if err != nil {
				return pl, err
			}
			pl.Retry.BaseDelay = d
		}
	}

	for i := range def.Stages {
		st, err := p.buildStage(&def.Stages[i], vars)
		if err != nil {
			return pl, fmt.Errorf("stage %s: %w", def.Stages[i].ID, err)
		}
		pl.Stages = append(pl.Stages, st)
	}
	return pl, nil
}

func (p *Parser) buildStage(def *StageDef, vars map[string]string) (workflow.Stage, error) {
	st := workflow.Stage{
		ID:         def.ID,
		Name:       def.Name,
		Kind:       workflow.StageKind(def.Kind),
		Provider:   def.Provider,
		Model:      def.Model,
		Capability: llm.Capability(def.Capability),
		Prompt:     interpolate(def.Prompt, vars),
		Parameters: llm.Parameters{
			SystemPrompt: interpolate(def.SystemPrompt, vars),
			Temperature:  def.Temperature,
			MaxTokens:    def.MaxTokens,
		},
	}

	if def.Transformer != "" {
		fn, err := p.transformers[def.Transformer](def.Args)
		if err != nil {
			return st, fmt.Errorf("transformer %s: %w", def.Transformer, err)
		}
		st.Transform = fn
	}
	if def.Validator != "" {
		fn, err := p.validators[def.Validator](def.Args)
		if err != nil {
			return st, fmt.Errorf("validator %s: %w", def.Validator, err)
		}
		st.Validate = fn
	}
	st.Strict = def.Strict
	return st, nil
}

// interpolate 替换 ${name}；{input} 占位符保持不变，留给执行期替换
func interpolate(template string, vars map[string]string) string {
	result := template
	for name, value := range vars {
		result = strings.ReplaceAll(result, "${"+name+"}", value)
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
