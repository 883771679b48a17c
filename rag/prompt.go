package rag

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/poiesic/policyrag/core"
)

// DefaultSystemPrompt frames the assistant. %s receives the policy context blocks.
const DefaultSystemPrompt = `당신은 청년 정책 상담 도우미입니다.
아래 <policies> 안의 정책 정보만 사용해 질문에 답하세요.
정책 정보에 없는 내용은 추측하지 말고, 관련 정책이 없으면 찾지 못했다고 안내하세요.
추천할 때는 정책명, 핵심 혜택, 자격 조건, 신청 방법 순서로 간결하게 설명하세요.

<policies>
%s
</policies>`

const notAvailable = "N/A"

// BuildContext renders one block per retrieved policy, numbered from 1.
func BuildContext(results []*core.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		doc := r.Document
		fmt.Fprintf(&b, "<policy id=\"%d\">\n", i+1)
		writeTag(&b, "name", doc.PolicyName)
		writeTag(&b, "category", doc.Category)
		writeTag(&b, "region", doc.Region)
		writeTag(&b, "deadline", doc.Deadline)
		writeTag(&b, "summary", doc.Summary)
		writeTag(&b, "support_content", doc.SupportContent)
		writeTag(&b, "eligibility", eligibilityJSON(doc.Eligibility))
		writeTag(&b, "application_website", website(doc))
		writeTag(&b, "similarity_score", fmt.Sprintf("%.2f", r.Score))
		b.WriteString("</policy>\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeTag(b *strings.Builder, name, value string) {
	if value == "" {
		value = notAvailable
	}
	fmt.Fprintf(b, "<%s>%s</%s>\n", name, value, name)
}

func eligibilityJSON(eligibility map[string]core.Value) string {
	if len(eligibility) == 0 {
		return "{}"
	}
	data, err := json.Marshal(eligibility)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func website(doc *core.PolicyDocument) string {
	for _, key := range []string{"application_url", "website"} {
		if s, ok := doc.ApplicationInfo[key].AsString(); ok && s != "" {
			return s
		}
	}
	return notAvailable
}
