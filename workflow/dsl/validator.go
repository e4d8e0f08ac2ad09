package dsl

import (
	"fmt"
	"time"

	"github.com/BaSui01/taskflow/llm"
	"github.com/BaSui01/taskflow/workflow"
)

// Validator 定义文件验证器，收集全部问题而不是遇到第一个就返回
type Validator struct {
	transformers map[string]TransformerFactory
	validators   map[string]ValidatorFactory
}

// Validate 验证定义文件
func (v *Validator) Validate(f *File) []error {
	var errs []error

	if f.Version != "" && f.Version != "1" {
		errs = append(errs, fmt.Errorf("unsupported version %q", f.Version))
	}
	if len(f.Pipelines) == 0 {
		errs = append(errs, fmt.Errorf("pipelines must have at least one entry"))
	}

	ids := make(map[string]bool)
	for i := range f.Pipelines {
		p := &f.Pipelines[i]
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("pipeline %d: id is required", i))
			continue
		}
		if ids[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate pipeline id: %s", p.ID))
		}
		ids[p.ID] = true
		errs = append(errs, v.validatePipeline(p)...)
	}
	return errs
}

func (v *Validator) validatePipeline(p *PipelineDef) []error {
	var errs []error

	switch workflow.Mode(p.Mode) {
	case "", workflow.ModeSequential, workflow.ModeParallel:
	default:
		errs = append(errs, fmt.Errorf("pipeline %s: invalid mode %q", p.ID, p.Mode))
	}
	if p.Retry != nil && p.Retry.BaseDelay != "" {
		if _, err := time.ParseDuration(p.Retry.BaseDelay); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: invalid retry.base_delay: %w", p.ID, err))
		}
	}
	if len(p.Stages) == 0 {
		errs = append(errs, fmt.Errorf("pipeline %s: stages must have at least one stage", p.ID))
	}

	stageIDs := make(map[string]bool)
	for _, s := range p.Stages {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("pipeline %s: stage id is required", p.ID))
			continue
		}
		if stageIDs[s.ID] {
			errs = append(errs, fmt.Errorf("pipeline %s: duplicate stage id %s", p.ID, s.ID))
		}
		stageIDs[s.ID] = true
		errs = append(errs, v.validateStage(p.ID, &s)...)
	}
	return errs
}

func (v *Validator) validateStage(pipelineID string, s *StageDef) []error {
	var errs []error
	where := pipelineID + "/" + s.ID

	kind := workflow.StageKind(s.Kind)
	if !kind.Valid() {
		errs = append(errs, fmt.Errorf("stage %s: invalid kind %q", where, s.Kind))
	}
	if s.Capability != "" && !llm.Capability(s.Capability).Valid() {
		errs = append(errs, fmt.Errorf("stage %s: invalid capability %q", where, s.Capability))
	}

	if s.Transformer != "" {
		if kind != workflow.StageTransform {
			errs = append(errs, fmt.Errorf("stage %s: transformer is only valid on transform stages", where))
		}
		if _, ok := v.transformers[s.Transformer]; !ok {
			errs = append(errs, fmt.Errorf("stage %s: unknown transformer %q", where, s.Transformer))
		}
	}
	if s.Strict && kind != workflow.StageValidate {
		errs = append(errs, fmt.Errorf("stage %s: strict is only valid on validate stages", where))
	}
	if s.Validator != "" {
		if kind != workflow.StageValidate {
			errs = append(errs, fmt.Errorf("stage %s: validator is only valid on validate stages", where))
		}
		if _, ok := v.validators[s.Validator]; !ok {
			errs = append(errs, fmt.Errorf("stage %s: unknown validator %q", where, s.Validator))
		}
	}

	// 没有本地函数的阶段需要提示词，否则 provider 只能收到原始输入
	local := s.Transformer != "" || s.Validator != ""
	if !local && s.Prompt == "" && kind != workflow.StageAggregate {
		errs = append(errs, fmt.Errorf("stage %s: prompt is required", where))
	}
	return errs
}
