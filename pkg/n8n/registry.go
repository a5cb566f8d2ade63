package n8n

import (
	"sort"

	"asplatform-backend/pkg/types"
)

// Endpoint 描述注册表中的一个外部工作流端点
type Endpoint struct {
	Path string // 引擎侧webhook路径
	Name string
}

// registry 封闭的任务类型注册表
// 新增工作流类型必须在此登记，未登记的类型在派发前即被拒绝
var registry = map[types.TaskType]Endpoint{
	types.TaskTypeLeadScoring:       {Path: "lead-scoring", Name: "Lead Scoring"},
	types.TaskTypeContentGeneration: {Path: "content-generation", Name: "Content Generation"},
	types.TaskTypeEmailCampaign:     {Path: "email-campaign", Name: "Email Campaign"},
	types.TaskTypeSocialPost:        {Path: "social-post", Name: "Social Media Post"},
	types.TaskTypeDataEnrichment:    {Path: "data-enrichment", Name: "Data Enrichment"},
	types.TaskTypeCustomerSupport:   {Path: "customer-support", Name: "Customer Support"},
}

// Resolve 查找任务类型对应的工作流端点
func Resolve(taskType types.TaskType) (Endpoint, bool) {
	ep, ok := registry[taskType]
	return ep, ok
}

// RegisteredTypes 返回全部已注册的任务类型
func RegisteredTypes() []types.TaskType {
	out := make([]types.TaskType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
