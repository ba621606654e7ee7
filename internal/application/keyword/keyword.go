// Package keyword 集中存放基于关键词的轻量启发式：
// 场景路由、编辑意图、性别判定、外观特征提取、起始帧捷径。
// 刻意保持简单和局部，便于日后替换为数据驱动的模型。
package keyword

import (
	"regexp"
	"strings"
)

// Scene 聊天场景
type Scene string

const (
	SceneTechSupport Scene = "tech_support"
	ScenePromptEng   Scene = "prompt_engineering"
	ScenePlanning    Scene = "project_planning"
	SceneWorkflow    Scene = "workflow"
	SceneOperator    Scene = "operator"
	SceneGeneralChat Scene = "general_chat"
)

var (
	idRe        = regexp.MustCompile(`\b(Shot|Element|Segment)_[A-Za-z0-9_]+`)
	shotElemRe  = regexp.MustCompile(`\b(Shot|Element)_[A-Za-z0-9_]+`)
	firstIdxRe  = regexp.MustCompile(`除(第一|首)[张个幅]?[外之]?外?`)
)

var editVerbs = []string{
	"修改", "改成", "改为", "更新", "删除", "新增", "增加", "替换", "调整", "换成",
	"set ", "change ", "update ", "replace ", "modify ",
}

var projectNouns = []string{
	"分镜", "镜头", "元素", "段落", "旁白", "台词", "提示词", "时长", "简报", "风格",
	"shot", "element", "segment", "narration", "dialogue", "prompt", "duration",
}

var multiScopeMarkers = []string{"全部", "所有", "批量"}

var regenerateWords = []string{
	"重新生成", "再生成", "重生成", "重做", "重画", "再画", "regenerate", "redo",
}

var generateVerbs = []string{
	"生成", "制作", "画", "出图", "generate", "create", "make",
}

// DetectScene 按关键词路由聊天场景。
// 有项目且消息像编辑请求时强制路由到 operator。
func DetectScene(message string, hasProject bool) Scene {
	m := strings.ToLower(message)

	if hasProject && IsEditRequest(message) {
		return SceneOperator
	}

	switch {
	case containsAny(m, "报错", "失败", "error", "timeout", "超时", "api key", "配置", "连不上", "无法生成"):
		return SceneTechSupport
	case containsAny(m, "提示词", "prompt 怎么", "优化 prompt", "prompt优化", "负向", "negative"):
		return ScenePromptEng
	case containsAny(m, "策划", "结构", "大纲", "节奏", "怎么讲这个故事", "故事线", "outline"):
		return ScenePlanning
	case containsAny(m, "流程", "步骤", "先做什么", "怎么用", "workflow", "下一步"):
		return SceneWorkflow
	default:
		return SceneGeneralChat
	}
}

// IsEditRequest 判断消息是否像项目编辑请求：
// 编辑动词 + 项目名词，或显式提到 Shot_*/Element_* ID。
func IsEditRequest(message string) bool {
	if shotElemRe.MatchString(message) {
		return true
	}
	m := strings.ToLower(message)
	if !containsAny(m, editVerbs...) {
		return false
	}
	return containsAny(m, projectNouns...)
}

// HasMultiScopeMarker 判断消息是否带显式批量标记
func HasMultiScopeMarker(message string) bool {
	return containsAny(message, multiScopeMarkers...)
}

// MentionedIDs 提取消息中显式提到的 Shot_*/Element_*/Segment_* ID
func MentionedIDs(message string) []string {
	return dedupStrings(idRe.FindAllString(message, -1))
}

// MentionsRegenerate 判断是否明确要求重新生成
func MentionsRegenerate(message string) bool {
	return containsAny(strings.ToLower(message), regenerateWords...)
}

// MentionsNarration 旁白字段意图
func MentionsNarration(message string) bool {
	return containsAny(strings.ToLower(message), "旁白", "narration", "解说")
}

// MentionsDialogue 台词字段意图
func MentionsDialogue(message string) bool {
	return containsAny(strings.ToLower(message), "台词", "对白", "dialogue", "对话")
}

// MentionsPrompt 提示词字段意图
func MentionsPrompt(message string) bool {
	return containsAny(strings.ToLower(message), "提示词", "prompt", "画面", "镜头描述")
}

// MentionsDuration 时长字段意图
func MentionsDuration(message string) bool {
	return containsAny(strings.ToLower(message), "时长", "秒", "duration", "长度")
}

// MentionsDescription 描述字段意图
func MentionsDescription(message string) bool {
	return containsAny(strings.ToLower(message), "描述", "description", "内容", "剧情")
}

// FrameShortcutIntent 起始帧批量生成捷径
type FrameShortcutIntent struct {
	Mode         string // missing | regenerate
	ExcludeFirst bool
}

// DetectFrameShortcut 在调用 LLM 之前识别“生成起始帧”类消息。
// 命中时直接返回可确认的批量动作，不消耗 LLM 调用。
func DetectFrameShortcut(message string) *FrameShortcutIntent {
	if !strings.Contains(message, "起始帧") && !strings.Contains(strings.ToLower(message), "start frame") {
		return nil
	}
	m := strings.ToLower(message)
	if !containsAny(m, generateVerbs...) && !containsAny(m, regenerateWords...) {
		return nil
	}

	intent := &FrameShortcutIntent{Mode: "missing"}
	if MentionsRegenerate(message) {
		intent.Mode = "regenerate"
	}
	if firstIdxRe.MatchString(message) || strings.Contains(m, "except the first") {
		intent.ExcludeFirst = true
	}
	return intent
}

// Gender 性别判定结果
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

var femaleWords = []string{
	"女", "她", "姑娘", "少女", "妈妈", "母亲", "奶奶", "阿姨", "姐", "妹",
	"女孩", "女士", "女人", "公主", "王后", "仙女",
	"female", "woman", "girl", "she", "her", "lady", "queen", "princess", "mother", "grandma",
}

var maleWords = []string{
	"男", "他", "小伙", "少年", "爸爸", "父亲", "爷爷", "叔叔", "哥", "弟",
	"男孩", "先生", "男人", "王子", "国王",
	"male", "man", "boy", "he", "his", "gentleman", "king", "prince", "father", "grandpa",
}

// DetectGender 在若干文本上做关键词性别判定，按命中词数多者胜出，持平视为未知。
func DetectGender(texts ...string) Gender {
	joined := strings.ToLower(strings.Join(texts, " "))
	femaleHits := countHits(joined, femaleWords)
	maleHits := countHits(joined, maleWords)
	switch {
	case femaleHits > maleHits:
		return GenderFemale
	case maleHits > femaleHits:
		return GenderMale
	default:
		return GenderUnknown
	}
}

// 视觉特征关键词表：发色、服装颜色、年龄感（CJK + English）
var featurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[黑白金红棕灰银蓝绿紫粉]色?(长|短|卷)?(头)?发`),
	regexp.MustCompile(`(black|blonde|golden|red|brown|gray|grey|silver|blue|green|purple|pink|white)\s+hair`),
	regexp.MustCompile(`[红橙黄绿蓝紫黑白灰棕粉金银]色的?(外套|大衣|连衣裙|裙子|衬衫|上衣|披风|围巾|帽子|长袍|制服|西装|毛衣)`),
	regexp.MustCompile(`(red|orange|yellow|green|blue|purple|black|white|gray|grey|brown|pink)\s+(coat|dress|shirt|jacket|cloak|scarf|hat|robe|uniform|suit|sweater)`),
	regexp.MustCompile(`(年轻|年迈|年老|中年|少年|少女|老年|孩童|幼年|青年)`),
	regexp.MustCompile(`\b(young|old|elderly|middle-aged|teenage|childlike)\b`),
}

// ExtractVisualFeatures 从角色描述中提取关键外观特征，用于一致性短语
func ExtractVisualFeatures(description string) []string {
	lower := strings.ToLower(description)
	var out []string
	for _, re := range featurePatterns {
		src := description
		if isASCIIPattern(re) {
			src = lower
		}
		for _, m := range re.FindAllString(src, -1) {
			out = append(out, strings.TrimSpace(m))
		}
	}
	return dedupStrings(out)
}

func isASCIIPattern(re *regexp.Regexp) bool {
	for _, r := range re.String() {
		if r > 0x7f {
			return false
		}
	}
	return true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func countHits(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
