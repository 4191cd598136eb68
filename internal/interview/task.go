package interview

// TaskType classifies the kind of work a phase asks of the candidate. It is
// part of the SSE contract with the front end.
type TaskType string

const (
	TaskIntro        TaskType = "INTRO"
	TaskCoding       TaskType = "CODING"
	TaskSystemDesign TaskType = "SYSTEM_DESIGN"
	TaskBehavioral   TaskType = "BEHAVIORAL"
	TaskQNA          TaskType = "QNA"
	TaskWrapUp       TaskType = "WRAP_UP"
)

// TaskProperties carries the question a task event refers to.
type TaskProperties struct {
	QuestionID string `json:"questionId"`
}

// TaskEvent is the SSE payload describing the task the candidate should work
// on. Field names follow the established wire contract with the front end.
type TaskEvent struct {
	TaskType       TaskType       `json:"taskType"`
	ToolNames      []ToolName     `json:"toolName"`
	TaskDefinition string         `json:"task_definition,omitempty"`
	TaskProperties TaskProperties `json:"task_properties"`
	ToolProperties map[string]any `json:"tool_properties,omitempty"`
}

// TaskTypeForPlanner derives the task type from the phase's tools and its
// position in the plan: editor tools dominate, the first phase is the intro,
// the last is Q&A, and anything else is behavioral.
func TaskTypeForPlanner(p *PlannerField, index, total int) TaskType {
	switch {
	case p.HasTool(ToolCodeEditor):
		return TaskCoding
	case p.HasTool(ToolDesignEditor):
		return TaskSystemDesign
	case index == 0:
		return TaskIntro
	case index == total-1:
		return TaskQNA
	default:
		return TaskBehavioral
	}
}

// NewTaskEvent builds the SSE payload for entering the given phase.
func NewTaskEvent(p *PlannerField, index, total int) TaskEvent {
	return TaskEvent{
		TaskType:       TaskTypeForPlanner(p, index, total),
		ToolNames:      p.ToolNames,
		TaskDefinition: p.QuestionText,
		TaskProperties: TaskProperties{QuestionID: p.QuestionID},
		ToolProperties: p.ToolProperties,
	}
}

// WrapUpEvent builds the terminal SYSTEM event announcing the wrap-up of the
// interview. It is emitted at most once per session.
func WrapUpEvent() TaskEvent {
	return TaskEvent{TaskType: TaskWrapUp, ToolNames: []ToolName{ToolBase}}
}
