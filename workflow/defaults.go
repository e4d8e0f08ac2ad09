package workflow

import "github.com/BaSui01/taskflow/llm"

// DefaultPipelines 内置流水线：content-gen、code-gen、analysis 为顺序模式，creative 为并行模式。
func DefaultPipelines() []Pipeline {
	return []Pipeline{
		{
			ID:   "content-gen",
			Name: "Content Generation Pipeline",
			Mode: ModeSequential,
			Stages: []Stage{
				{ID: "ideation", Name: "Idea Generation", Kind: StageProcess, Provider: "anthropic",
					Prompt: "Generate creative ideas for: {input}"},
				{ID: "expansion", Name: "Content Expansion", Kind: StageEnhance, Provider: "openai",
					Prompt: "Expand and elaborate on this idea: {input}"},
				{ID: "optimization", Name: "SEO Optimization", Kind: StageTransform, Provider: "google",
					Prompt: "Optimize this content for SEO: {input}"},
			},
		},
		{
			ID:   "code-gen",
			Name: "Code Generation Pipeline",
			Mode: ModeSequential,
			Stages: []Stage{
				{ID: "architecture", Name: "Architecture Design", Kind: StageProcess, Provider: "anthropic",
					Prompt: "Design the architecture for: {input}"},
				{ID: "implementation", Name: "Code Implementation", Kind: StageProcess, Provider: "openai",
					Model: "gpt-4-turbo-preview", Capability: llm.CapabilityCode,
					Prompt: "Implement this architecture in code: {input}"},
				{ID: "review", Name: "Code Review", Kind: StageValidate, Provider: "anthropic",
					Prompt: "Review this code for best practices and security: {input}"},
				{ID: "documentation", Name: "Documentation", Kind: StageEnhance, Provider: "openai",
					Prompt: "Generate comprehensive documentation for: {input}"},
			},
		},
		{
			ID:   "analysis",
			Name: "Deep Analysis Pipeline",
			Mode: ModeSequential,
			Stages: []Stage{
				{ID: "data-extraction", Name: "Data Extraction", Kind: StageProcess, Provider: "google",
					Prompt: "Extract key data points from: {input}"},
				{ID: "pattern-recognition", Name: "Pattern Recognition", Kind: StageProcess, Provider: "anthropic",
					Capability: llm.CapabilityAnalysis,
					Prompt:     "Identify patterns and trends in: {input}"},
				{ID: "insights", Name: "Insight Generation", Kind: StageEnhance, Provider: "openai",
					Prompt: "Generate actionable insights from: {input}"},
				{ID: "recommendations", Name: "Recommendations", Kind: StageAggregate, Provider: "anthropic",
					Prompt: "Provide strategic recommendations based on: {input}"},
			},
		},
		{
			ID:   "creative",
			Name: "Creative Generation Pipeline",
			Mode: ModeParallel,
			Stages: []Stage{
				{ID: "concept", Name: "Concept Development", Kind: StageProcess, Provider: "anthropic",
					Prompt: "Develop creative concepts for: {input}"},
				{ID: "visual", Name: "Visual Generation", Kind: StageProcess, Provider: "stability",
					Capability: llm.CapabilityImage,
					Prompt:     "Create visual representation: {input}"},
				{ID: "copy", Name: "Copy Writing", Kind: StageEnhance, Provider: "openai",
					Prompt: "Write compelling copy for: {input}"},
			},
		},
	}
}
