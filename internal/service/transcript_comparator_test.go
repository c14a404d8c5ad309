package service

import (
	"testing"

	"lingua_edu_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTranscript(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"小写化", "Hello World", "hello world"},
		{"去标点", "The quick, brown fox!", "the quick brown fox"},
		{"合并空白", "a   b\t\nc", "a b c"},
		{"首尾修剪", "  hello.  ", "hello"},
		{"空串", "", ""},
		{"纯标点", "!!! ... ???", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeTranscript(tc.in))
		})
	}
}

func TestCompareTranscriptsPerfectMatch(t *testing.T) {
	m, err := CompareTranscripts("Practice makes perfect.", "practice makes perfect")
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.WordAccuracy)
	assert.Equal(t, 1.0, m.WordOrderScore)
	assert.Equal(t, 1.0, m.VocabularyCoverage)
	assert.Equal(t, 1.0, m.CharSimilarity)
	assert.Empty(t, m.MissingWords)
	assert.Empty(t, m.ExtraWords)
	assert.Empty(t, m.Mispronounced)
}

func TestCompareTranscriptsPartialMatch(t *testing.T) {
	m, err := CompareTranscripts("The quick brown fox jumps.", "quick brown fox jumped")
	require.NoError(t, err)

	// "the" 没有任何相近词，算漏读；"jumped" 被认作 "jumps" 的误读
	assert.Equal(t, []string{"the"}, m.MissingWords)
	assert.Empty(t, m.ExtraWords)
	require.Len(t, m.Mispronounced, 1)
	assert.Equal(t, "jumps", m.Mispronounced[0].Original)
	assert.Equal(t, "jumped", m.Mispronounced[0].Student)
	assert.InDelta(t, 0.667, m.Mispronounced[0].Similarity, 0.01)

	assert.InDelta(t, 0.8, m.WordAccuracy, 1e-9)
	assert.InDelta(t, 0.8, m.VocabularyCoverage, 1e-9)
	// 词序 LCS 只认精确词: quick brown fox = 3/5
	assert.InDelta(t, 0.6, m.WordOrderScore, 1e-9)
	// 编辑距离 6，期望串长 25
	assert.InDelta(t, 1.0-6.0/25.0, m.CharSimilarity, 1e-9)
}

func TestCompareTranscriptsEmptyActual(t *testing.T) {
	m, err := CompareTranscripts("The quick brown fox", "")
	require.NoError(t, err)

	assert.Zero(t, m.WordAccuracy)
	assert.Zero(t, m.WordOrderScore)
	assert.Zero(t, m.VocabularyCoverage)
	assert.Zero(t, m.CharSimilarity)
	assert.Equal(t, []string{"the", "quick", "brown", "fox"}, m.MissingWords)
	assert.Empty(t, m.ExtraWords)
}

func TestCompareTranscriptsEmptyExpected(t *testing.T) {
	_, err := CompareTranscripts("", "anything at all")
	assert.ErrorIs(t, err, util.ErrEmptyExpected)

	// 纯标点归一化后为空，同样是配置错误
	_, err = CompareTranscripts("?!.", "anything")
	assert.ErrorIs(t, err, util.ErrEmptyExpected)
}

func TestCompareTranscriptsExtraWords(t *testing.T) {
	m, err := CompareTranscripts("hello world", "hello big wide world")
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.WordAccuracy)
	assert.Equal(t, 1.0, m.VocabularyCoverage)
	assert.ElementsMatch(t, []string{"big", "wide"}, m.ExtraWords)
	assert.Empty(t, m.MissingWords)
}

func TestCompareTranscriptsUnrelatedWordIsMissing(t *testing.T) {
	// 相似度低于下限的词不算误读，避免把无关词硬配成对
	m, err := CompareTranscripts("cat", "xylophone")
	require.NoError(t, err)

	assert.Equal(t, []string{"cat"}, m.MissingWords)
	assert.Equal(t, []string{"xylophone"}, m.ExtraWords)
	assert.Empty(t, m.Mispronounced)
	assert.Zero(t, m.WordAccuracy)
}

func TestCompareTranscriptsDeterministic(t *testing.T) {
	expected := "She sells sea shells on the sea shore"
	actual := "she sell sea shell on the shore"

	first, err := CompareTranscripts(expected, actual)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := CompareTranscripts(expected, actual)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompareTranscriptsRepeatedExpectedTokens(t *testing.T) {
	// 期望文本中的重复词逐个计入词准确率分母
	m, err := CompareTranscripts("the cat and the dog", "the cat and the dog")
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.WordAccuracy)

	m, err = CompareTranscripts("the cat and the dog", "cat dog")
	require.NoError(t, err)
	// the×2 与 and 漏读，5 个 token 命中 2 个
	assert.InDelta(t, 0.4, m.WordAccuracy, 1e-9)
	assert.ElementsMatch(t, []string{"the", "and"}, m.MissingWords)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein([]rune("abc"), []rune("abc")))
	assert.Equal(t, 3, levenshtein([]rune(""), []rune("abc")))
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
	assert.Equal(t, 2, levenshtein([]rune("jumps"), []rune("jumped")))
}

func TestLCSLength(t *testing.T) {
	assert.Equal(t, 3, lcsLength(
		[]string{"a", "b", "c", "d"},
		[]string{"a", "c", "d"},
	))
	assert.Equal(t, 0, lcsLength([]string{"a"}, nil))
	// 顺序颠倒只保留一个公共子序列元素
	assert.Equal(t, 1, lcsLength(
		[]string{"a", "b"},
		[]string{"b", "a"},
	))
}
