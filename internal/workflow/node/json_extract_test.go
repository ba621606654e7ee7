package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONCandidate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "说明文字\n```json\n{\"a\":1}\n```\n结尾", `{"a":1}`},
		{"anonymous fence", "```\n[1,2]\n```", "[1,2]"},
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"object embedded in prose", `好的，结果如下：{"a":1}，请查收`, `{"a":1}`},
		{"array embedded in prose", "结果 [1,2,3] 完毕", "[1,2,3]"},
		{"object before array wins", `前缀 {"a":[1]} 后缀`, `{"a":[1]}`},
		{"no json at all", "纯文本回答", "纯文本回答"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONCandidate(tt.in))
		})
	}
}

func TestRepairJSON(t *testing.T) {
	in := `{
	// 注释行
	"title"： "夜行"， /* 块注释 */
	"tags": ["a"; "b"],
	"note": “引号”，
	"tail": 1,
}`
	got := RepairJSON(in)
	assert.NotContains(t, got, "//")
	assert.NotContains(t, got, "/*")
	assert.NotContains(t, got, "：")
	assert.NotContains(t, got, "“")
	// 尾逗号去除后应可解析
	var v map[string]any
	require.NoError(t, unmarshalStrictNumber(got, &v))
	assert.Equal(t, "夜行", v["title"])
}

func TestRepairJSONKeepsFullwidthInsideStrings(t *testing.T) {
	got := RepairJSON(`{"narration": "他说：不要走，好吗；"}`)
	var v map[string]any
	require.NoError(t, unmarshalStrictNumber(got, &v))
	assert.Equal(t, "他说：不要走，好吗；", v["narration"])
}

func TestSalvageTruncatedJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unclosed object", `{"a": 1`, `{"a": 1}`},
		{"unclosed nested", `{"a": [1, 2`, `{"a": [1, 2]}`},
		{"unclosed string", `{"a": "夜色渐`, `{"a": "夜色渐"}`},
		{"dangling key", `{"a": 1, "b":`, `{"a": 1, "b":null}`},
		{"trailing comma", `{"a": 1,`, `{"a": 1}`},
		{"already complete", `{"a": 1}`, `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SalvageTruncatedJSON(tt.in)
			assert.Equal(t, tt.want, got)
			var v any
			assert.NoError(t, unmarshalStrictNumber(got, &v))
		})
	}
}

func TestDecodeLoose(t *testing.T) {
	t.Run("clean json", func(t *testing.T) {
		var v map[string]any
		used, err := DecodeLoose("```json\n{\"a\": 1}\n```", &v)
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, used)
	})

	t.Run("needs repair", func(t *testing.T) {
		var v map[string]any
		_, err := DecodeLoose(`{"a"： 1，}`, &v)
		require.NoError(t, err)
		assert.Contains(t, v, "a")
	})

	t.Run("needs salvage", func(t *testing.T) {
		var v map[string]any
		_, err := DecodeLoose(`{"a": {"b": [1, 2`, &v)
		require.NoError(t, err)
		assert.Contains(t, v, "a")
	})

	t.Run("hopeless input returns error", func(t *testing.T) {
		var v map[string]any
		_, err := DecodeLoose("完全不是 JSON", &v)
		assert.Error(t, err)
	})
}

func TestTruncateByRunes(t *testing.T) {
	assert.Equal(t, "你好", TruncateByRunes("你好世界", 2))
	assert.Equal(t, "abc", TruncateByRunes("abc", 10))
	assert.Equal(t, "", TruncateByRunes("abc", 0))
}
