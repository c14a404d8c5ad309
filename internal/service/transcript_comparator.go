package service

import (
	"strings"
	"unicode"

	"lingua_edu_backend/internal/model"
	"lingua_edu_backend/internal/util"
)

// mispronunciationFloor 误读词的最低相似度，低于该值视为完全不相关、归入漏读
const mispronunciationFloor = 0.4

// NormalizeTranscript 归一化文本：小写、去标点、合并空白。
// 期望文本与实际文本必须使用同一归一化，否则分数不稳定。
func NormalizeTranscript(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			// 标点与空白统一折叠成单个空格
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// CompareTranscripts 比对期望文本与学生转写文本，输出诊断度量。
// 纯函数：相同输入产出逐位一致的结果。角色不对称，词序分按期望词数归一，
// 因此 Compare(e, a) 与 Compare(a, e) 一般不同。
// 期望文本为空是配置错误，返回 ErrEmptyExpected，调用方必须在判分前拒绝。
func CompareTranscripts(expected, actual string) (*model.TranscriptMetrics, error) {
	expNorm := NormalizeTranscript(expected)
	actNorm := NormalizeTranscript(actual)

	expWords := splitWords(expNorm)
	if len(expWords) == 0 {
		return nil, util.ErrEmptyExpected
	}
	actWords := splitWords(actNorm)

	expDistinct := distinct(expWords)
	if len(actWords) == 0 {
		// 空回答：全部得 0 分，每个期望词都算漏读
		return &model.TranscriptMetrics{
			MissingWords:  expDistinct,
			ExtraWords:    []string{},
			Mispronounced: []model.WordMatch{},
		}, nil
	}
	actDistinct := distinct(actWords)

	actSet := make(map[string]bool, len(actDistinct))
	for _, w := range actDistinct {
		actSet[w] = true
	}

	// 逐个期望词匹配：精确命中优先；否则取相似度最高的实际词，
	// 超过下限记为误读，否则记为漏读。匹配遍历顺序固定，保证确定性。
	matched := make(map[string]bool, len(expDistinct))
	claimed := make(map[string]bool)
	missing := []string{}
	mispronounced := []model.WordMatch{}
	for _, w := range expDistinct {
		if actSet[w] {
			matched[w] = true
			continue
		}
		best, bestSim := "", 0.0
		for _, cand := range actDistinct {
			if sim := wordSimilarity(w, cand); sim > bestSim {
				best, bestSim = cand, sim
			}
		}
		if bestSim > mispronunciationFloor {
			matched[w] = true
			claimed[best] = true
			mispronounced = append(mispronounced, model.WordMatch{
				Original:   w,
				Student:    best,
				Similarity: bestSim,
			})
		} else {
			missing = append(missing, w)
		}
	}

	matchedTokens := 0
	for _, w := range expWords {
		if matched[w] {
			matchedTokens++
		}
	}
	matchedDistinct := 0
	for _, w := range expDistinct {
		if matched[w] {
			matchedDistinct++
		}
	}

	expSet := make(map[string]bool, len(expDistinct))
	for _, w := range expDistinct {
		expSet[w] = true
	}
	extra := []string{}
	for _, w := range actDistinct {
		if !expSet[w] && !claimed[w] {
			extra = append(extra, w)
		}
	}

	return &model.TranscriptMetrics{
		WordAccuracy:       float64(matchedTokens) / float64(len(expWords)),
		WordOrderScore:     float64(lcsLength(expWords, actWords)) / float64(len(expWords)),
		VocabularyCoverage: float64(matchedDistinct) / float64(len(expDistinct)),
		CharSimilarity:     charSimilarity(expNorm, actNorm),
		MissingWords:       missing,
		ExtraWords:         extra,
		Mispronounced:      mispronounced,
	}, nil
}

func splitWords(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// distinct 去重并保留首次出现顺序
func distinct(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// wordSimilarity 单词级相似度：1 - 编辑距离/较长词长
func wordSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// charSimilarity 整串字符相似度，基于归一化后的完整文本
func charSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein 经典两行DP编辑距离
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// lcsLength 词序列的最长公共子序列长度，用于词序评分
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
		for j := range curr {
			curr[j] = 0
		}
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
