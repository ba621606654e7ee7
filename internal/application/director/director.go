package director

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/workflow/node"
	workflowprompt "storyboard-agent-api/internal/workflow/prompt"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/metrics"
	"storyboard-agent-api/pkg/tracer"
)

// llmTimeout 单次 LLM 调用超时
const llmTimeout = 60 * time.Second

// Director LLM 导演：规划、时长校准、场景化聊天与剧本修订
type Director struct {
	factory         port.ChatModelFactory
	prompts         *workflowprompt.Registry
	defaultProvider string
}

// New 创建 Director
func New(factory port.ChatModelFactory, prompts *workflowprompt.Registry, defaultProvider string) *Director {
	return &Director{
		factory:         factory,
		prompts:         prompts,
		defaultProvider: defaultProvider,
	}
}

func (d *Director) provider(name string) string {
	if strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return d.defaultProvider
}

// PlanInput 规划输入
type PlanInput struct {
	UserRequest string
	Style       string
	Provider    string
	Model       string
	Temperature *float32
	MaxTokens   *int
}

// PlanOutput 规划输出；解析失败时 Success=false 并附带原始文本
type PlanOutput struct {
	Success bool               `json:"success"`
	Plan    *Plan              `json:"plan,omitempty"`
	Post    *PostprocessResult `json:"post,omitempty"`
	Error   string             `json:"error,omitempty"`
	Raw     string             `json:"raw,omitempty"`
}

// GeneratePlan 根据用户需求生成规范化、时长校准后的分镜规划。
// 解析失败不返回 error，而是 {Success:false, Error, Raw}，由调用方呈现。
func (d *Director) GeneratePlan(ctx context.Context, in *PlanInput) (*PlanOutput, error) {
	ctx, span := tracer.Start(ctx, "director.GeneratePlan")
	defer span.End()

	if d == nil || d.factory == nil {
		return nil, errors.New(errors.CodeProviderConfig, "llm factory not configured")
	}
	if in == nil || strings.TrimSpace(in.UserRequest) == "" {
		return nil, errors.New(errors.CodeValidationFailed, "user request is required")
	}

	vars := map[string]any{
		"user_request": strings.TrimSpace(in.UserRequest),
		"style":        strings.TrimSpace(in.Style),
	}
	var rawPlan any
	rawText, err := d.callJSON(ctx, in.Provider, in.Model, "plan", workflowprompt.PromptPlanV1, vars, &rawPlan, modelOptions(in.Model, in.Temperature, in.MaxTokens))
	if err != nil {
		logger.Warn(ctx, "plan generation parse failed", "error", err)
		return &PlanOutput{Success: false, Error: err.Error(), Raw: rawText}, nil
	}

	plan, err := NormalizePlan(rawPlan)
	if err != nil {
		return &PlanOutput{Success: false, Error: err.Error(), Raw: rawText}, nil
	}
	if in.Style != "" && plan.CreativeBrief.VisualStyle == "" {
		plan.CreativeBrief.VisualStyle = strings.TrimSpace(in.Style)
	}

	post := PostprocessPlan(plan, in.UserRequest)
	if post.NeedsDurationFit {
		if err := d.fitDuration(ctx, in, plan, post); err != nil {
			// 校准失败不阻断规划，按启发式结果返回
			logger.Warn(ctx, "duration fit pass failed", "error", err)
		}
	}

	logger.Info(ctx, "plan generated",
		"segments", len(plan.Segments),
		"shots", len(plan.AllShots()),
		"target_seconds", post.TargetSeconds,
		"total_seconds", post.TotalSeconds,
		"speed_ratio", post.SpeedRatio,
	)
	return &PlanOutput{Success: true, Plan: plan, Post: post}, nil
}

// callJSON 格式化模板并调用 LLM，按宽松策略解析 JSON；
// 解析仍失败时用 strict_json 提示让模型修复一次后重试解析。
func (d *Director) callJSON(ctx context.Context, providerName, modelName, purpose string, id workflowprompt.PromptID, vars map[string]any, out any, opts []model.Option) (string, error) {
	raw, err := d.generate(ctx, providerName, modelName, purpose, id, vars, opts)
	if err != nil {
		return "", err
	}

	if _, derr := node.DecodeLoose(raw, out); derr == nil {
		return raw, nil
	}

	metrics.LLMParseRepairs.WithLabelValues("llm_retry").Inc()
	fixed, err := d.generate(ctx, providerName, modelName, purpose+"_strict", workflowprompt.PromptStrictJSONV1,
		map[string]any{"broken_json": node.TruncateByRunes(raw, 12000)}, opts)
	if err != nil {
		return raw, err
	}
	if _, derr := node.DecodeLoose(fixed, out); derr != nil {
		return raw, errors.Wrap(derr, errors.CodeLLMParseFailed, "llm output is not valid JSON after strict retry")
	}
	return fixed, nil
}

// generate 单次模板化 LLM 调用，返回原始文本
func (d *Director) generate(ctx context.Context, providerName, modelName, purpose string, id workflowprompt.PromptID, vars map[string]any, opts []model.Option) (string, error) {
	provider := d.provider(providerName)
	chatModel, err := d.factory.Get(ctx, provider)
	if err != nil {
		return "", err
	}

	tpl, err := d.prompts.ChatTemplate(id)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeProviderConfig, "prompt template unavailable")
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeProviderConfig, "prompt format failed")
	}

	return d.generateMessages(ctx, chatModel, provider, purpose, msgs, opts)
}

func (d *Director) generateMessages(ctx context.Context, chatModel model.BaseChatModel, provider, purpose string, msgs []*schema.Message, opts []model.Option) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	start := time.Now()
	outMsg, err := chatModel.Generate(ctx, msgs, opts...)
	metrics.LLMCallDuration.WithLabelValues(provider, purpose).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(provider, purpose, "error").Inc()
		return "", errors.Wrap(err, errors.CodeLLMProviderError, "llm call failed")
	}
	metrics.LLMCallTotal.WithLabelValues(provider, purpose, "ok").Inc()
	if outMsg == nil || strings.TrimSpace(outMsg.Content) == "" {
		return "", errors.New(errors.CodeLLMProviderError, "empty llm response")
	}
	return outMsg.Content, nil
}

func modelOptions(modelName string, temperature *float32, maxTokens *int) []model.Option {
	opts := make([]model.Option, 0, 3)
	if temperature != nil {
		opts = append(opts, model.WithTemperature(*temperature))
	}
	if maxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*maxTokens))
	}
	if strings.TrimSpace(modelName) != "" {
		opts = append(opts, model.WithModel(strings.TrimSpace(modelName)))
	}
	return opts
}
